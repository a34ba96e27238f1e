package middleware

import (
	"net/http"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

const (
	CSRFHeaderName = "X-CSRF-Token"
	CSRFCookieName = "csrf_token"
)

// CSRFMiddleware enforces the double-submit pattern on state-changing
// requests: the header must echo the non-HTTP-only cookie, and when the
// caller is authenticated the value must also match the server-side copy
// bound to the session, so a rotated session invalidates old tokens.
func CSRFMiddleware(store service.CsrfStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(CSRFHeaderName)
			cookie := security.GetCookie(r, CSRFCookieName)
			if header == "" || cookie == "" || !security.ConstantTimeEquals(header, cookie) {
				response.Error(w, r, http.StatusForbidden, "CSRF_VALIDATION_FAILED", "csrf token missing or mismatched", nil)
				return
			}
			if claims, ok := ClaimsFromContext(r.Context()); ok && store != nil {
				bound, err := store.Get(r.Context(), claims.ID)
				if err != nil {
					response.Error(w, r, http.StatusServiceUnavailable, "CSRF_UNAVAILABLE", "csrf validation unavailable", nil)
					return
				}
				if bound != "" && !security.ConstantTimeEquals(header, bound) {
					response.Error(w, r, http.StatusForbidden, "CSRF_VALIDATION_FAILED", "csrf token not bound to session", nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
