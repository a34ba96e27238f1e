package security

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(bcrypt.MinCost, 2)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	return h
}

func TestHashAndCompare(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "Sifre123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "Sifre123" {
		t.Fatal("hash equals plaintext")
	}
	if err := h.Compare(ctx, hash, "Sifre123"); err != nil {
		t.Errorf("Compare with correct password: %v", err)
	}
	if err := h.Compare(ctx, hash, "Yanlis123"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Compare with wrong password = %v, want ErrPasswordMismatch", err)
	}
}

func TestCompareDummyAlwaysFails(t *testing.T) {
	h := newTestHasher(t)
	if err := h.CompareDummy(context.Background(), "anything"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("CompareDummy = %v, want ErrPasswordMismatch", err)
	}
}

func TestHasherBoundedConcurrency(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Hash(ctx, "Sifre123"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Hash: %v", err)
	}
}

func TestHashCancelledContext(t *testing.T) {
	h := newTestHasher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Hash(ctx, "Sifre123"); err == nil {
		t.Fatal("Hash with cancelled context should fail")
	}
}

func TestHashRefreshTokenDependsOnPepper(t *testing.T) {
	a := HashRefreshToken("token", "pepper-a")
	b := HashRefreshToken("token", "pepper-b")
	if a == b {
		t.Fatal("different peppers produced the same digest")
	}
	if a != HashRefreshToken("token", "pepper-a") {
		t.Fatal("digest is not deterministic")
	}
}

func TestNewCSRFTokenUnique(t *testing.T) {
	a, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("NewCSRFToken: %v", err)
	}
	b, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("NewCSRFToken: %v", err)
	}
	if a == b {
		t.Fatal("two csrf tokens collided")
	}
	if len(a) < 40 {
		t.Errorf("token too short: %d chars", len(a))
	}
}
