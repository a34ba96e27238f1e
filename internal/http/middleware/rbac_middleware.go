package middleware

import (
	"net/http"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
)

// RequireRole gates a route on the ordered hierarchy USER < MODERATOR <
// ADMIN. The role comes from the verified access-token claims; there is no
// database round trip here.
func RequireRole(minRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			role := domain.Role(claims.Role)
			if !role.AtLeast(minRole) {
				response.Error(w, r, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "insufficient role", map[string]string{"required": string(minRole)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
