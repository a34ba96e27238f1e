package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCsrfStoreBindGetUnbind(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisCsrfStore(client, "csrf")
	ctx := context.Background()

	if err := store.Bind(ctx, "jti-1", "token-1", time.Hour); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, err := store.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "token-1" {
		t.Errorf("Get = %q, want token-1", got)
	}

	// rebinding replaces the previous token
	if err := store.Bind(ctx, "jti-1", "token-2", time.Hour); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got, _ := store.Get(ctx, "jti-1"); got != "token-2" {
		t.Errorf("after rebind Get = %q, want token-2", got)
	}

	if err := store.Unbind(ctx, "jti-1"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if got, _ := store.Get(ctx, "jti-1"); got != "" {
		t.Errorf("after Unbind Get = %q, want empty", got)
	}

	if err := store.Bind(ctx, "jti-2", "token-3", time.Minute); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if got, _ := store.Get(ctx, "jti-2"); got != "" {
		t.Errorf("binding outlived its ttl: %q", got)
	}
}

func TestRedisCsrfStoreMissingKeyIsEmptyNotError(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisCsrfStore(client, "csrf")
	got, err := store.Get(context.Background(), "never-bound")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "" {
		t.Errorf("Get = %q, want empty", got)
	}
}

func TestLoginBackoffEscalates(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewRedisLoginBackoffGuard(client, "login_backoff", LoginBackoffPolicy{
		FreeAttempts: 2,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     8 * time.Second,
		ResetWindow:  time.Minute,
	})
	ctx := context.Background()

	// the free attempts carry no cooldown
	for i := 0; i < 2; i++ {
		cooldown, err := guard.RegisterFailure(ctx, "ayse", "10.0.0.1")
		if err != nil {
			t.Fatalf("RegisterFailure %d: %v", i+1, err)
		}
		if cooldown != 0 {
			t.Errorf("attempt %d cooldown = %v, want 0", i+1, cooldown)
		}
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, expected := range want {
		cooldown, err := guard.RegisterFailure(ctx, "ayse", "10.0.0.1")
		if err != nil {
			t.Fatalf("RegisterFailure: %v", err)
		}
		if cooldown != expected {
			t.Errorf("escalation step %d = %v, want %v", i+1, cooldown, expected)
		}
	}

	remaining, err := guard.Check(ctx, "ayse", "10.0.0.1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if remaining <= 0 {
		t.Error("Check reports no cooldown after repeated failures")
	}
}

func TestLoginBackoffScopedToIdentityAndIP(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewRedisLoginBackoffGuard(client, "login_backoff", LoginBackoffPolicy{
		FreeAttempts: 0,
		BaseDelay:    time.Second,
	})
	ctx := context.Background()

	if _, err := guard.RegisterFailure(ctx, "ayse", "10.0.0.1"); err != nil {
		t.Fatalf("RegisterFailure: %v", err)
	}
	if remaining, _ := guard.Check(ctx, "fatma", "10.0.0.1"); remaining != 0 {
		t.Error("cooldown leaked to another identity")
	}
	if remaining, _ := guard.Check(ctx, "ayse", "10.0.0.2"); remaining != 0 {
		t.Error("cooldown leaked to another ip")
	}
	// identifiers normalize before hashing
	if remaining, _ := guard.Check(ctx, "  AYSE ", "10.0.0.1"); remaining <= 0 {
		t.Error("case/space variant dodged the cooldown")
	}
}

func TestLoginBackoffReset(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewRedisLoginBackoffGuard(client, "login_backoff", LoginBackoffPolicy{
		FreeAttempts: 0,
		BaseDelay:    time.Minute,
	})
	ctx := context.Background()

	if _, err := guard.RegisterFailure(ctx, "ayse", "10.0.0.1"); err != nil {
		t.Fatalf("RegisterFailure: %v", err)
	}
	if err := guard.Reset(ctx, "ayse", "10.0.0.1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if remaining, _ := guard.Check(ctx, "ayse", "10.0.0.1"); remaining != 0 {
		t.Error("cooldown survived a successful login")
	}
}

func TestLoginBackoffMalformedStateIsAnError(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewRedisLoginBackoffGuard(client, "login_backoff", LoginBackoffPolicy{})
	ctx := context.Background()

	if _, err := guard.RegisterFailure(ctx, "ayse", "10.0.0.1"); err != nil {
		t.Fatalf("RegisterFailure: %v", err)
	}
	key := guard.stateKey("ayse", "10.0.0.1")
	mr.HSet(key, "cooldown_until_ms", "garbage")
	if _, err := guard.Check(ctx, "ayse", "10.0.0.1"); err == nil {
		t.Fatal("malformed cooldown field should surface an error")
	}
}

func TestIdempotencyNewThenReplay(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, "idem")
	ctx := context.Background()

	res, err := store.Begin(ctx, "register", "key-1", "fp-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if res.State != IdempotencyStateNew {
		t.Fatalf("state = %q, want new", res.State)
	}

	// a retry before completion is reported as in progress
	res, err = store.Begin(ctx, "register", "key-1", "fp-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin retry: %v", err)
	}
	if res.State != IdempotencyStateInProgress {
		t.Fatalf("state = %q, want in_progress", res.State)
	}

	original := CachedHTTPResponse{
		StatusCode:  201,
		ContentType: "application/json",
		Body:        []byte(`{"success":true}`),
	}
	if err := store.Complete(ctx, "register", "key-1", "fp-1", original, time.Hour); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	res, err = store.Begin(ctx, "register", "key-1", "fp-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin after complete: %v", err)
	}
	if res.State != IdempotencyStateReplay {
		t.Fatalf("state = %q, want replay", res.State)
	}
	if res.Cached == nil || res.Cached.StatusCode != 201 || string(res.Cached.Body) != `{"success":true}` {
		t.Errorf("cached response mismatch: %+v", res.Cached)
	}
}

func TestIdempotencyFingerprintMismatchIsConflict(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, "idem")
	ctx := context.Background()

	if _, err := store.Begin(ctx, "register", "key-1", "fp-1", time.Hour); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	res, err := store.Begin(ctx, "register", "key-1", "fp-other", time.Hour)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if res.State != IdempotencyStateConflict {
		t.Fatalf("state = %q, want conflict", res.State)
	}
}

func TestIdempotencyKeysAreScoped(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, "idem")
	ctx := context.Background()

	if _, err := store.Begin(ctx, "register", "key-1", "fp-1", time.Hour); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	res, err := store.Begin(ctx, "other_scope", "key-1", "fp-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if res.State != IdempotencyStateNew {
		t.Fatalf("state = %q, want new in a different scope", res.State)
	}
}

func TestIdempotencyExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, "idem")
	ctx := context.Background()

	if _, err := store.Begin(ctx, "register", "key-1", "fp-1", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	res, err := store.Begin(ctx, "register", "key-1", "fp-1", time.Minute)
	if err != nil {
		t.Fatalf("Begin after expiry: %v", err)
	}
	if res.State != IdempotencyStateNew {
		t.Fatalf("state = %q, want new after expiry", res.State)
	}
}
