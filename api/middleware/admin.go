package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/api/responses"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

const adminIDHeader = "X-Admin-Id"

type adminCtxKey struct{}

// Admin resolves the operator behind back-office requests. The admin edge
// authenticates staff and forwards their id in X-Admin-Id.
func Admin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(adminIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity required"))
				return
			}
			adminID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid admin identity"))
				return
			}

			ctx := context.WithValue(r.Context(), adminCtxKey{}, adminID.String())
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"admin_id": adminID.String()})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminIDFromContext returns the operator id resolved by Admin, empty if absent.
func AdminIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(adminCtxKey{}).(string)
	return id
}
