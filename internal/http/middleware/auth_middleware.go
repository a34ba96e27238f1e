package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	UserContextKey   contextKey = "user"
)

// AuthMiddleware verifies the access token and attaches its claims to the
// request context. Expired tokens are reported separately from malformed
// ones so clients know whether a silent refresh will help.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessTokenFromRequest(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				if errors.Is(err, security.ErrTokenExpired) {
					observability.RecordAccessTokenValidation(r.Context(), "expired", source)
					response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired", nil)
					return
				}
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware attaches claims when a valid access token is
// present and passes through silently otherwise. Used by the session probe
// endpoint, which must tolerate anonymous callers.
func OptionalAuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessTokenFromRequest(r)
			if raw != "" {
				if claims, err := jwtMgr.ParseAccessToken(raw); err == nil {
					observability.RecordAccessTokenValidation(r.Context(), "valid", source)
					r = r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessTokenFromRequest(r *http.Request) (raw, source string) {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	if cookie := security.GetCookie(r, "access_token"); cookie != "" {
		return cookie, "cookie"
	}
	return "", "none"
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
