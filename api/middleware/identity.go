package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/api/responses"
	"github.com/anshulkhatri/cartful-backend/internal/cart"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

const (
	userIDHeader    = "X-User-Id"
	sessionIDHeader = "X-Session-Id"
)

type ownerCtxKey struct{}

// Identity resolves the shopper behind a request. Authenticated traffic
// carries X-User-Id (minted upstream by the auth edge); guests carry
// X-Session-Id. Exactly one must be present.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawUser := strings.TrimSpace(r.Header.Get(userIDHeader))
			rawSession := strings.TrimSpace(r.Header.Get(sessionIDHeader))

			var owner cart.Owner
			switch {
			case rawUser != "" && rawSession != "":
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "provide either a user or a session identity, not both"))
				return
			case rawUser != "":
				userID, err := uuid.Parse(rawUser)
				if err != nil {
					responses.WriteError(r.Context(), logg, w,
						pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity"))
					return
				}
				owner.UserID = &userID
			case rawSession != "":
				owner.SessionID = &rawSession
			default:
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required"))
				return
			}

			ctx := context.WithValue(r.Context(), ownerCtxKey{}, owner)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"user_id":    rawUser,
					"session_id": rawSession,
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext returns the shopper identity resolved by Identity.
func OwnerFromContext(ctx context.Context) (cart.Owner, bool) {
	owner, ok := ctx.Value(ownerCtxKey{}).(cart.Owner)
	return owner, ok
}

// UserIDFromContext returns the user id string for scoping, empty for guests.
func UserIDFromContext(ctx context.Context) string {
	owner, ok := OwnerFromContext(ctx)
	if !ok || owner.UserID == nil {
		return ""
	}
	return owner.UserID.String()
}

// SessionIDFromContext returns the guest session id for scoping, if any.
func SessionIDFromContext(ctx context.Context) string {
	owner, ok := OwnerFromContext(ctx)
	if !ok || owner.SessionID == nil {
		return ""
	}
	return *owner.SessionID
}
