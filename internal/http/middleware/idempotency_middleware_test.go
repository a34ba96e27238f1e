package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

func newIdemHandler(t *testing.T, calls *atomic.Int32) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := service.NewRedisIdempotencyStore(client, "idem")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created":true}`))
	})
	return Idempotency(store, "register", time.Hour)(inner)
}

func postWithKey(h http.Handler, key, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	if key != "" {
		r.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	var calls atomic.Int32
	h := newIdemHandler(t, &calls)

	first := postWithKey(h, "key-1", `{"nickname":"ayse"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := postWithKey(h, "key-1", `{"nickname":"ayse"}`)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body %q != original %q", second.Body.String(), first.Body.String())
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestIdempotencyDifferentBodyIsConflict(t *testing.T) {
	var calls atomic.Int32
	h := newIdemHandler(t, &calls)

	if rec := postWithKey(h, "key-1", `{"nickname":"ayse"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := postWithKey(h, "key-1", `{"nickname":"fatma"}`)
	assertErrorCode(t, rec, http.StatusConflict, "IDEMPOTENCY_KEY_REUSED")
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	var calls atomic.Int32
	h := newIdemHandler(t, &calls)

	postWithKey(h, "", `{"nickname":"ayse"}`)
	postWithKey(h, "", `{"nickname":"ayse"}`)
	if got := calls.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestIdempotencyDistinctKeysRunIndependently(t *testing.T) {
	var calls atomic.Int32
	h := newIdemHandler(t, &calls)

	postWithKey(h, "key-1", `{"nickname":"ayse"}`)
	postWithKey(h, "key-2", `{"nickname":"ayse"}`)
	if got := calls.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}
