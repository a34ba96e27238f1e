package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/middleware"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

type AuthHandler struct {
	auth         *service.AuthService
	tokens       *service.TokenService
	sessions     *service.SessionService
	csrfStore    service.CsrfStore
	backoff      service.LoginBackoffGuard
	cookieSecure bool
}

func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, sessions *service.SessionService, csrfStore service.CsrfStore, backoff service.LoginBackoffGuard, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		tokens:       tokens,
		sessions:     sessions,
		csrfStore:    csrfStore,
		backoff:      backoff,
		cookieSecure: cookieSecure,
	}
}

type registerRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Nickname: req.Nickname,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		observability.RecordAuthRegister("failure")
		h.writeAuthError(w, r, err)
		return
	}
	pair, csrf, err := h.tokens.Issue(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.RecordAuthRegister("success")
	h.establishSession(w, r, pair, csrf)
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"user":      user,
		"tokens":    pair,
		"csrfToken": csrf,
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	ip := clientIP(r)
	if cooldown, err := h.backoff.Check(r.Context(), req.Identifier, ip); err == nil && cooldown > 0 {
		observability.RecordAuthLogin("cooldown")
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many failed attempts", map[string]any{
			"retryAfterSeconds": int(cooldown.Seconds()) + 1,
		})
		return
	}
	user, err := h.auth.VerifyCredentials(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			_, _ = h.backoff.RegisterFailure(r.Context(), req.Identifier, ip)
		}
		observability.RecordAuthLogin("failure")
		h.writeAuthError(w, r, err)
		return
	}
	_ = h.backoff.Reset(r.Context(), req.Identifier, ip)
	pair, csrf, err := h.tokens.Issue(r.Context(), user, r.UserAgent(), ip)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.RecordAuthLogin("success")
	h.establishSession(w, r, pair, csrf)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":      user,
		"tokens":    pair,
		"csrfToken": csrf,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := security.GetCookie(r, "refresh_token")
	if refreshToken == "" {
		observability.RecordAuthRefresh("missing")
		response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token missing", nil)
		return
	}
	pair, csrf, userID, err := h.tokens.Rotate(r.Context(), refreshToken, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrRefreshTokenReuseDetected) {
			observability.RecordAuthRefresh("replay")
			observability.Audit(r, "refresh_token_replay_detected", "user_id", userID)
			h.clearAuthCookies(w)
			response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token", nil)
			return
		}
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			observability.RecordAuthRefresh("invalid")
			h.clearAuthCookies(w)
			response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.RecordAuthRefresh("success")
	h.establishSession(w, r, pair, csrf)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"tokens":    pair,
		"csrfToken": csrf,
	})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user": user})
}

type profileUpdateRequest struct {
	Nickname *string `json:"nickname"`
	Avatar   *string `json:"avatar"`
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	updated, err := h.auth.UpdateProfile(r.Context(), user.ID, service.ProfileUpdateInput{
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user": updated})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	// a changed password invalidates every session; the client re-logs in
	// with the new credential
	if _, err := h.tokens.RevokeAll(r.Context(), user.ID, domain.RevokeReasonPassword); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.Audit(r, "password_changed", "user_id", user.ID)
	h.clearAuthCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "password updated, please sign in again"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	if err := h.auth.Deactivate(r.Context(), user.ID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	_, _ = h.tokens.RevokeAll(r.Context(), user.ID, domain.RevokeReasonDeactivated)
	observability.Audit(r, "account_deactivated", "user_id", user.ID)
	h.clearAuthCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "account deactivated"})
}

// SessionProbe reports whether the caller is authenticated. It never fails
// on a missing or stale token; the UI uses it to decide what to render.
func (h *AuthHandler) SessionProbe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.JSON(w, r, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		response.JSON(w, r, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	user, err := h.auth.GetByID(r.Context(), uint(userID))
	if err != nil || !user.IsActive {
		response.JSON(w, r, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"authenticated": true, "user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := security.GetCookie(r, "refresh_token")
	if err := h.tokens.RevokeByToken(r.Context(), refreshToken, domain.RevokeReasonLogout); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		_ = h.csrfStore.Unbind(r.Context(), claims.ID)
	}
	observability.RecordAuthLogout("success")
	h.clearAuthCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	revoked, err := h.tokens.RevokeAll(r.Context(), user.ID, domain.RevokeReasonLogoutAll)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.RecordAuthLogout("success")
	observability.Audit(r, "logout_all", "user_id", user.ID, "revoked_sessions", revoked)
	h.clearAuthCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"revokedSessions": revoked})
}

// CsrfToken reissues the double-submit token for the caller's session.
func (h *AuthHandler) CsrfToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	if err := h.csrfStore.Bind(r.Context(), claims.ID, csrf, h.tokens.RefreshTTL()); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	h.setCsrfCookie(w, csrf)
	response.JSON(w, r, http.StatusOK, map[string]any{"csrfToken": csrf})
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	currentID, err := h.sessions.ResolveCurrentSessionID(r, claims, user.ID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	views, err := h.sessions.ListActiveSessions(r.Context(), user.ID, currentID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	sessionID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid session id", nil)
		return
	}
	status, err := h.sessions.RevokeSession(r.Context(), user.ID, uint(sessionID))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"status": status})
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed", vErr.Fields)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case errors.Is(err, service.ErrAccountInactive):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is deactivated", nil)
	case errors.Is(err, service.ErrEmailNotVerified):
		response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email address is not verified", nil)
	case errors.Is(err, service.ErrNicknameExists):
		response.Error(w, r, http.StatusConflict, "NICKNAME_EXISTS", "nickname is already taken", nil)
	case errors.Is(err, service.ErrEmailExists):
		response.Error(w, r, http.StatusConflict, "EMAIL_EXISTS", "email is already registered", nil)
	case errors.Is(err, service.ErrInvalidCurrentPassword):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CURRENT_PASSWORD", "current password is incorrect", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func (h *AuthHandler) establishSession(w http.ResponseWriter, r *http.Request, pair service.TokenPair, csrf string) {
	refreshClaims, err := h.tokens.SessionTokenID(pair.RefreshToken)
	if err == nil {
		_ = h.csrfStore.Bind(r.Context(), refreshClaims, csrf, h.tokens.RefreshTTL())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(h.tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		MaxAge:   int(h.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.setCsrfCookie(w, csrf)
}

func (h *AuthHandler) setCsrfCookie(w http.ResponseWriter, csrf string) {
	// deliberately readable by the client: the double-submit pattern needs
	// the frontend to echo this value in the X-CSRF-Token header
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    csrf,
		Path:     "/",
		MaxAge:   int(h.tokens.RefreshTTL().Seconds()),
		HttpOnly: false,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearAuthCookies(w http.ResponseWriter) {
	for _, c := range []http.Cookie{
		{Name: "access_token", Path: "/"},
		{Name: "refresh_token", Path: "/api/v1/auth"},
		{Name: "csrf_token", Path: "/"},
	} {
		c.Value = ""
		c.MaxAge = -1
		c.HttpOnly = c.Name != "csrf_token"
		c.Secure = h.cookieSecure
		http.SetCookie(w, &c)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
