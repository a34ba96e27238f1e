package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned by RotateSession when the presented
	// session was concurrently rotated, revoked, or has expired. Exactly one
	// of N concurrent rotations of the same session can succeed; the rest
	// observe this error.
	ErrSessionNotActive = errors.New("session not active")
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error)
	RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) error
	MarkReuseDetectedByHash(ctx context.Context, hash string) error
	RevokeByHash(ctx context.Context, hash, reason string) error
	RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string) (bool, error)
	RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error)
	RevokeByUserID(ctx context.Context, userID uint, reason string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

// RotateSession atomically retires the presented session and creates its
// child. The compare-and-set is the conditional UPDATE on revoked_at: under
// concurrent rotations only one transaction flips the row, the others see
// zero rows affected and get ErrSessionNotActive so the caller can run
// replay handling.
func (r *GormSessionRepository) RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&domain.Session{}).
			Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, now).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": domain.RevokeReasonRotated})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotActive
		}
		return tx.Create(newSession).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "not_active")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate_session", "success")
	return nil
}

func (r *GormSessionRepository) MarkReuseDetectedByHash(ctx context.Context, hash string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ?", hash).
		Updates(map[string]any{"reuse_detected_at": now, "revoked_reason": domain.RevokeReasonReuseDetected}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "mark_reuse_detected_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "mark_reuse_detected_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string) (bool, error) {
	if _, err := r.FindByIDForUser(ctx, userID, sessionID); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND id = ? AND revoked_at IS NULL", userID, sessionID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_family_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_family_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
