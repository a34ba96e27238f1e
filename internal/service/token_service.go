package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService mints access/refresh pairs and drives the refresh-token state
// machine: Active -> Rotated | Revoked | Expired. Rotation is single-use and
// a replayed token revokes its whole rotation family.
type TokenService struct {
	jwtMgr     *security.JWTManager
	sessions   repository.SessionRepository
	users      repository.UserRepository
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, sessions repository.SessionRepository, users repository.UserRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		sessions:   sessions,
		users:      users,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }
func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }

// SessionTokenID extracts the jti that names the session a refresh token
// belongs to. Access tokens minted alongside carry the same jti.
func (s *TokenService) SessionTokenID(refreshToken string) (string, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	return claims.ID, nil
}

// Issue starts a new rotation family for the user.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, ua, ip string) (TokenPair, string, error) {
	pair, refreshClaims, csrf, err := s.mintTokenPair(user)
	if err != nil {
		return TokenPair{}, "", err
	}
	if err := s.sessions.Create(ctx, &domain.Session{
		UserID:           user.ID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken, s.pepper),
		TokenID:          refreshClaims.ID,
		FamilyID:         uuid.NewString(),
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	}); err != nil {
		return TokenPair{}, "", err
	}
	return pair, csrf, nil
}

// Rotate exchanges a still-active refresh token for a new pair. Presenting a
// token that is absent, already rotated, revoked, or expired is treated as
// replay: the whole family is revoked and the caller gets a failure.
func (s *TokenService) Rotate(ctx context.Context, refreshToken, ua, ip string) (TokenPair, string, uint, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, "", 0, ErrInvalidRefreshToken
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessions.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return TokenPair{}, "", 0, ErrInvalidRefreshToken
		}
		return TokenPair{}, "", 0, err
	}
	id64, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || session.UserID != uint(id64) || session.TokenID != claims.ID {
		return TokenPair{}, "", 0, ErrInvalidRefreshToken
	}
	userID := uint(id64)
	now := time.Now()
	if session.ExpiresAt.Before(now) {
		return TokenPair{}, "", 0, ErrInvalidRefreshToken
	}
	if session.RevokedAt != nil {
		return TokenPair{}, "", 0, s.handleReplay(ctx, session, hash)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return TokenPair{}, "", 0, err
	}
	if !user.IsActive {
		return TokenPair{}, "", 0, ErrInvalidRefreshToken
	}
	pair, newClaims, csrf, err := s.mintTokenPair(user)
	if err != nil {
		return TokenPair{}, "", 0, err
	}
	parentTokenID := session.TokenID
	err = s.sessions.RotateSession(ctx, hash, &domain.Session{
		UserID:           userID,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken, s.pepper),
		TokenID:          newClaims.ID,
		FamilyID:         session.FamilyID,
		ParentTokenID:    &parentTokenID,
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotActive) {
			// lost a concurrent rotation race: the token is now in the
			// Rotated state, which is replay by the state machine
			if fresh, ferr := s.sessions.FindByHash(ctx, hash); ferr == nil {
				return TokenPair{}, "", 0, s.handleReplay(ctx, fresh, hash)
			}
			return TokenPair{}, "", 0, ErrInvalidRefreshToken
		}
		return TokenPair{}, "", 0, err
	}
	return pair, csrf, userID, nil
}

// handleReplay decides whether a revoked session indicates theft. Sessions
// retired by rotation or already flagged for reuse revoke the whole family;
// deliberate revocations (logout, ban) just fail.
func (s *TokenService) handleReplay(ctx context.Context, session *domain.Session, hash string) error {
	reason := ""
	if session.RevokedReason != nil {
		reason = *session.RevokedReason
	}
	switch reason {
	case "", domain.RevokeReasonRotated, domain.RevokeReasonReuseDetected:
		_ = s.sessions.MarkReuseDetectedByHash(ctx, hash)
		if _, err := s.sessions.RevokeByFamilyID(ctx, session.FamilyID, domain.RevokeReasonReuseDetected); err != nil {
			return err
		}
		observability.RecordReplayDetected()
		return ErrRefreshTokenReuseDetected
	default:
		return ErrInvalidRefreshToken
	}
}

// RevokeByToken is explicit logout. Revoking an already-revoked or unknown
// token is a no-op success, not an error.
func (s *TokenService) RevokeByToken(ctx context.Context, refreshToken, reason string) error {
	if refreshToken == "" {
		return nil
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	return s.sessions.RevokeByHash(ctx, hash, reason)
}

func (s *TokenService) RevokeAll(ctx context.Context, userID uint, reason string) (int64, error) {
	return s.sessions.RevokeByUserID(ctx, userID, reason)
}

func (s *TokenService) mintTokenPair(user *domain.User) (TokenPair, *security.Claims, string, error) {
	refresh, err := s.jwtMgr.SignRefreshToken(user.ID, s.refreshTTL)
	if err != nil {
		return TokenPair{}, nil, "", err
	}
	refreshClaims, err := s.jwtMgr.ParseRefreshToken(refresh)
	if err != nil {
		return TokenPair{}, nil, "", err
	}
	access, err := s.jwtMgr.SignAccessTokenWithJTI(user.ID, string(user.Role), s.accessTTL, refreshClaims.ID)
	if err != nil {
		return TokenPair{}, nil, "", err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return TokenPair{}, nil, "", err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, refreshClaims, csrf, nil
}
