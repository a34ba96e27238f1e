package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
)

// AccountStateGuard runs after token verification and re-reads the user row,
// so a ban takes effect on the next guarded request instead of waiting out
// the access token. The loaded user is stashed in the context for handlers.
func AccountStateGuard(users repository.UserRepository, requireVerifiedEmail bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			userID, err := strconv.ParseUint(claims.Subject, 10, 64)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid token subject", nil)
				return
			}
			user, err := users.FindByID(r.Context(), uint(userID))
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "unknown account", nil)
					return
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
				return
			}
			if !user.IsActive {
				response.Error(w, r, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is deactivated", nil)
				return
			}
			if requireVerifiedEmail && !user.EmailVerified {
				response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email address is not verified", nil)
				return
			}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*domain.User)
	return u, ok
}
