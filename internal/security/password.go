package security

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

var ErrPasswordMismatch = errors.New("password mismatch")

// PasswordHasher wraps bcrypt behind a weighted semaphore. Hashing is
// deliberately slow (tens of milliseconds at the configured cost), so the
// pool bounds how many hashes run at once instead of letting a login burst
// occupy every handler goroutine.
type PasswordHasher struct {
	cost int
	pool *semaphore.Weighted
	// dummyHash keeps credential verification constant-work for unknown
	// identifiers: the caller compares against this hash instead of
	// returning early, so timing does not reveal whether a nickname exists.
	dummyHash string
}

func NewPasswordHasher(cost, maxConcurrent int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("sesimiz-ol-dummy-credential"), cost)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{
		cost:      cost,
		pool:      semaphore.NewWeighted(int64(maxConcurrent)),
		dummyHash: string(dummy),
	}, nil
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.pool.Release(1)
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *PasswordHasher) Compare(ctx context.Context, hash, password string) error {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.pool.Release(1)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

// CompareDummy burns the same bcrypt work as a real comparison and always
// fails. Used when the identifier matched no account.
func (h *PasswordHasher) CompareDummy(ctx context.Context, password string) error {
	_ = h.Compare(ctx, h.dummyHash, password)
	return ErrPasswordMismatch
}
