package service

import (
	"context"
	"net/http"
	"time"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
)

type SessionView struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"isCurrent"`
}

// SessionService exposes a user's active refresh sessions for the "manage
// devices" surface.
type SessionService struct {
	sessions repository.SessionRepository
	pepper   string
}

func NewSessionService(sessions repository.SessionRepository, pepper string) *SessionService {
	return &SessionService{sessions: sessions, pepper: pepper}
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID, currentSessionID uint) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:        session.ID,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
			UserAgent: session.UserAgent,
			IP:        session.IP,
			IsCurrent: session.ID == currentSessionID,
		})
	}
	return views, nil
}

// ResolveCurrentSessionID maps the caller's credentials back to a session
// row: the access token's jti matches the session TokenID, with the refresh
// cookie as fallback for tokens minted before a rotation.
func (s *SessionService) ResolveCurrentSessionID(r *http.Request, claims *security.Claims, userID uint) (uint, error) {
	ctx := r.Context()
	if claims != nil && claims.ID != "" {
		sessions, err := s.sessions.ListActiveByUserID(ctx, userID)
		if err != nil {
			return 0, err
		}
		for _, session := range sessions {
			if session.TokenID == claims.ID {
				return session.ID, nil
			}
		}
	}
	refreshToken := security.GetCookie(r, "refresh_token")
	if refreshToken == "" {
		return 0, repository.ErrSessionNotFound
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessions.FindByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	if session.UserID != userID || !session.Active(time.Now()) {
		return 0, repository.ErrSessionNotFound
	}
	return session.ID, nil
}

func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID uint) (string, error) {
	changed, err := s.sessions.RevokeByIDForUser(ctx, userID, sessionID, domain.RevokeReasonLogout)
	if err != nil {
		return "", err
	}
	if !changed {
		return "already_revoked", nil
	}
	return "revoked", nil
}
