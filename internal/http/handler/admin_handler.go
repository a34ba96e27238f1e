package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/middleware"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

type AdminHandler struct {
	users  repository.UserRepository
	tokens *service.TokenService
}

func NewAdminHandler(users repository.UserRepository, tokens *service.TokenService) *AdminHandler {
	return &AdminHandler{users: users, tokens: tokens}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	result, err := h.users.ListPaged(r.Context(), repository.UserListQuery{
		PageRequest: repository.PageRequest{Page: page, PageSize: pageSize},
		Nickname:    q.Get("nickname"),
		Role:        q.Get("role"),
		Status:      q.Get("status"),
	})
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	targetID, ok := h.targetUserID(w, r)
	if !ok {
		return
	}
	if targetID == caller.ID {
		response.Error(w, r, http.StatusBadRequest, "CANNOT_BAN_SELF", "cannot ban your own account", nil)
		return
	}
	if err := h.users.SetActive(r.Context(), targetID, false); err != nil {
		h.writeUserError(w, r, err)
		return
	}
	revoked, err := h.tokens.RevokeAll(r.Context(), targetID, domain.RevokeReasonBanned)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	observability.Audit(r, "user_banned", "admin_id", caller.ID, "target_id", targetID, "revoked_sessions", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message":         "user banned",
		"revokedSessions": revoked,
	})
}

func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	targetID, ok := h.targetUserID(w, r)
	if !ok {
		return
	}
	if err := h.users.SetActive(r.Context(), targetID, true); err != nil {
		h.writeUserError(w, r, err)
		return
	}
	observability.Audit(r, "user_unbanned", "admin_id", caller.ID, "target_id", targetID)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "user unbanned"})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	targetID, ok := h.targetUserID(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	role := domain.Role(req.Role)
	if !role.Valid() {
		response.Error(w, r, http.StatusBadRequest, "INVALID_ROLE", "unknown role", map[string]any{
			"allowed": []domain.Role{domain.RoleUser, domain.RoleModerator, domain.RoleAdmin},
		})
		return
	}
	if err := h.users.SetRole(r.Context(), targetID, role); err != nil {
		h.writeUserError(w, r, err)
		return
	}
	// role rides inside the access token; force a fresh pair so the change
	// is not deferred until natural expiry
	_, _ = h.tokens.RevokeAll(r.Context(), targetID, domain.RevokeReasonLogoutAll)
	observability.Audit(r, "user_role_changed", "admin_id", caller.ID, "target_id", targetID, "role", role)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "role updated", "role": role})
}

func (h *AdminHandler) targetUserID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id", nil)
		return 0, false
	}
	return uint(id64), true
}

func (h *AdminHandler) writeUserError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrUserNotFound) {
		response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
		return
	}
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
}
