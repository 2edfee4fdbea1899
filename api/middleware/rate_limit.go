package middleware

import (
	"net/http"
	"time"

	"github.com/anshulkhatri/cartful-backend/api/responses"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	pkgredis "github.com/anshulkhatri/cartful-backend/pkg/redis"
)

const (
	rateLimitWindow   = time.Minute
	rateLimitRequests = 120
)

// RateLimit applies a per-identity fixed window limit. Limiter outages fail
// open: a broken counter must not take checkout down with it.
func RateLimit(client *pkgredis.Client, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client == nil {
				next.ServeHTTP(w, r)
				return
			}

			scope := UserIDFromContext(r.Context())
			if scope == "" {
				scope = SessionIDFromContext(r.Context())
			}
			if scope == "" {
				scope = r.RemoteAddr
			}

			allowed, _, err := client.FixedWindowAllow(r.Context(), scope, rateLimitRequests, rateLimitWindow)
			if err != nil {
				if logg != nil {
					logg.Warn(r.Context(), "rate limiter unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
