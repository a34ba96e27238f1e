package service

import (
	"context"
	"sync"
	"time"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/domain"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
)

// In-memory repositories mirroring the gorm implementations closely enough
// for service-level tests, including the compare-and-set in RotateSession.

type memUserRepo struct {
	mu     sync.Mutex
	users  map[uint]*domain.User
	nextID uint
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uint]*domain.User), nextID: 1}
}

func (r *memUserRepo) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByNickname(_ context.Context, nickname string) (*domain.User, error) {
	return r.findWhere(func(u *domain.User) bool { return u.Nickname == nickname })
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.findWhere(func(u *domain.User) bool { return u.Email != nil && *u.Email == email })
}

func (r *memUserRepo) FindByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	return r.findWhere(func(u *domain.User) bool {
		return u.Nickname == identifier || (u.Email != nil && *u.Email == identifier)
	})
}

func (r *memUserRepo) findWhere(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Nickname == user.Nickname {
			return errUnique("nickname")
		}
		if u.Email != nil && user.Email != nil && *u.Email == *user.Email {
			return errUnique("email")
		}
	}
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdatePasswordHash(_ context.Context, userID uint, hash string) error {
	return r.mutate(userID, func(u *domain.User) { u.PasswordHash = hash })
}

func (r *memUserRepo) SetActive(_ context.Context, userID uint, active bool) error {
	return r.mutate(userID, func(u *domain.User) { u.IsActive = active })
}

func (r *memUserRepo) SetRole(_ context.Context, userID uint, role domain.Role) error {
	return r.mutate(userID, func(u *domain.User) { u.Role = role })
}

func (r *memUserRepo) mutate(userID uint, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (r *memUserRepo) ListPaged(_ context.Context, _ repository.UserListQuery) (repository.PageResult[domain.User], error) {
	return repository.PageResult[domain.User]{}, nil
}

type uniqueViolation string

func errUnique(column string) error { return uniqueViolation(column) }

func (v uniqueViolation) Error() string {
	return "UNIQUE constraint failed: users." + string(v)
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uint]*domain.Session
	nextID   uint
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uint]*domain.Session), nextID: 1}
}

func (r *memSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createLocked(s)
	return nil
}

func (r *memSessionRepo) createLocked(s *domain.Session) {
	s.ID = r.nextID
	r.nextID++
	s.CreatedAt = time.Now()
	cp := *s
	r.sessions[s.ID] = &cp
}

func (r *memSessionRepo) FindByHash(_ context.Context, hash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memSessionRepo) FindByIDForUser(_ context.Context, userID, sessionID uint) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) ListActiveByUserID(_ context.Context, userID uint) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) RotateSession(_ context.Context, oldHash string, newSession *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.sessions {
		if s.RefreshTokenHash != oldHash {
			continue
		}
		if s.RevokedAt != nil || !s.ExpiresAt.After(now) {
			return repository.ErrSessionNotActive
		}
		reason := domain.RevokeReasonRotated
		s.RevokedAt = &now
		s.RevokedReason = &reason
		r.createLocked(newSession)
		return nil
	}
	return repository.ErrSessionNotActive
}

func (r *memSessionRepo) MarkReuseDetectedByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	reason := domain.RevokeReasonReuseDetected
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash {
			s.ReuseDetectedAt = &now
			s.RevokedReason = &reason
		}
	}
	return nil
}

func (r *memSessionRepo) RevokeByHash(_ context.Context, hash, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash && s.RevokedAt == nil {
			s.RevokedAt = &now
			s.RevokedReason = &reason
		}
	}
	return nil
}

func (r *memSessionRepo) RevokeByIDForUser(_ context.Context, userID, sessionID uint, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return false, repository.ErrSessionNotFound
	}
	if s.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	s.RevokedAt = &now
	s.RevokedReason = &reason
	return true, nil
}

func (r *memSessionRepo) RevokeByFamilyID(_ context.Context, familyID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for _, s := range r.sessions {
		if s.FamilyID == familyID && s.RevokedAt == nil {
			s.RevokedAt = &now
			s.RevokedReason = &reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) RevokeByUserID(_ context.Context, userID uint, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			s.RevokedReason = &reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) CleanupExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) activeCount(userID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			n++
		}
	}
	return n
}
