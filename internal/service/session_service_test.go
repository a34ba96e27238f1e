package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
)

func seedSession(t *testing.T, repo *memSessionRepo, userID uint, tokenID, rawRefresh string) *domain.Session {
	t.Helper()
	s := &domain.Session{
		UserID:           userID,
		RefreshTokenHash: security.HashRefreshToken(rawRefresh, testPepper),
		TokenID:          tokenID,
		FamilyID:         "family-" + tokenID,
		UserAgent:        "ua",
		IP:               "10.0.0.1",
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestListActiveSessionsMarksCurrent(t *testing.T) {
	repo := newMemSessionRepo()
	svc := NewSessionService(repo, testPepper)

	a := seedSession(t, repo, 1, "jti-a", "refresh-a")
	b := seedSession(t, repo, 1, "jti-b", "refresh-b")
	seedSession(t, repo, 2, "jti-c", "refresh-c")

	views, err := svc.ListActiveSessions(context.Background(), 1, b.ID)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len = %d, want 2", len(views))
	}
	for _, v := range views {
		wantCurrent := v.ID == b.ID
		if v.IsCurrent != wantCurrent {
			t.Errorf("session %d IsCurrent = %v, want %v", v.ID, v.IsCurrent, wantCurrent)
		}
		if v.ID == a.ID && v.UserAgent != "ua" {
			t.Errorf("user agent not surfaced: %q", v.UserAgent)
		}
	}
}

func TestResolveCurrentSessionIDByClaims(t *testing.T) {
	repo := newMemSessionRepo()
	svc := NewSessionService(repo, testPepper)
	s := seedSession(t, repo, 1, "jti-a", "refresh-a")

	r := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	claims := &security.Claims{RegisteredClaims: jwt.RegisteredClaims{ID: "jti-a"}}
	got, err := svc.ResolveCurrentSessionID(r, claims, 1)
	if err != nil {
		t.Fatalf("ResolveCurrentSessionID: %v", err)
	}
	if got != s.ID {
		t.Errorf("id = %d, want %d", got, s.ID)
	}
}

func TestResolveCurrentSessionIDFallsBackToCookie(t *testing.T) {
	repo := newMemSessionRepo()
	svc := NewSessionService(repo, testPepper)
	s := seedSession(t, repo, 1, "jti-a", "refresh-a")

	r := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-a"})
	claims := &security.Claims{RegisteredClaims: jwt.RegisteredClaims{ID: "stale-jti"}}
	got, err := svc.ResolveCurrentSessionID(r, claims, 1)
	if err != nil {
		t.Fatalf("ResolveCurrentSessionID: %v", err)
	}
	if got != s.ID {
		t.Errorf("id = %d, want %d", got, s.ID)
	}
}

func TestResolveCurrentSessionIDRejectsForeignCookie(t *testing.T) {
	repo := newMemSessionRepo()
	svc := NewSessionService(repo, testPepper)
	seedSession(t, repo, 2, "jti-a", "refresh-a")

	r := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-a"})
	_, err := svc.ResolveCurrentSessionID(r, nil, 1)
	if !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRevokeSessionStatuses(t *testing.T) {
	repo := newMemSessionRepo()
	svc := NewSessionService(repo, testPepper)
	s := seedSession(t, repo, 1, "jti-a", "refresh-a")
	ctx := context.Background()

	status, err := svc.RevokeSession(ctx, 1, s.ID)
	if err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if status != "revoked" {
		t.Errorf("status = %q, want revoked", status)
	}

	status, err = svc.RevokeSession(ctx, 1, s.ID)
	if err != nil {
		t.Fatalf("second RevokeSession: %v", err)
	}
	if status != "already_revoked" {
		t.Errorf("status = %q, want already_revoked", status)
	}

	if _, err := svc.RevokeSession(ctx, 1, 999); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}

	// a session id belonging to another user reads as not found
	other := seedSession(t, repo, 2, "jti-b", "refresh-b")
	if _, err := svc.RevokeSession(ctx, 1, other.ID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("foreign session err = %v, want ErrSessionNotFound", err)
	}
}
