package service

import (
	"context"
	"sync"
	"time"
)

// CsrfStore holds the server-side half of the double-submit pair, keyed by
// the session's token ID so the binding dies with the session and is
// replaced on every rotation.
type CsrfStore interface {
	Bind(ctx context.Context, sessionTokenID, token string, ttl time.Duration) error
	Get(ctx context.Context, sessionTokenID string) (string, error)
	Unbind(ctx context.Context, sessionTokenID string) error
}

type NoopCsrfStore struct{}

func NewNoopCsrfStore() *NoopCsrfStore { return &NoopCsrfStore{} }

func (s *NoopCsrfStore) Bind(context.Context, string, string, time.Duration) error { return nil }
func (s *NoopCsrfStore) Get(context.Context, string) (string, error)               { return "", nil }
func (s *NoopCsrfStore) Unbind(context.Context, string) error                      { return nil }

type csrfEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryCsrfStore serves single-instance deployments; a multi-instance
// deployment needs the redis store so rotation on one instance invalidates
// the binding everywhere.
type InMemoryCsrfStore struct {
	mu    sync.RWMutex
	store map[string]csrfEntry
}

func NewInMemoryCsrfStore() *InMemoryCsrfStore {
	return &InMemoryCsrfStore{store: make(map[string]csrfEntry)}
}

func (s *InMemoryCsrfStore) Bind(_ context.Context, sessionTokenID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[sessionTokenID] = csrfEntry{token: token, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemoryCsrfStore) Get(_ context.Context, sessionTokenID string) (string, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.store[sessionTokenID]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.store[sessionTokenID]; ok && now.After(cur.expiresAt) {
			delete(s.store, sessionTokenID)
		}
		s.mu.Unlock()
		return "", nil
	}
	return entry.token, nil
}

func (s *InMemoryCsrfStore) Unbind(_ context.Context, sessionTokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, sessionTokenID)
	return nil
}
