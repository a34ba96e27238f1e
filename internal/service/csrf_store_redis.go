package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCsrfStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCsrfStore(client redis.UniversalClient, prefix string) *RedisCsrfStore {
	if prefix == "" {
		prefix = "csrf"
	}
	return &RedisCsrfStore{client: client, prefix: prefix}
}

func (s *RedisCsrfStore) Bind(ctx context.Context, sessionTokenID, token string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(sessionTokenID), token, ttl).Err()
}

func (s *RedisCsrfStore) Get(ctx context.Context, sessionTokenID string) (string, error) {
	if s.client == nil {
		return "", nil
	}
	val, err := s.client.Get(ctx, s.key(sessionTokenID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCsrfStore) Unbind(ctx context.Context, sessionTokenID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(sessionTokenID)).Err()
}

func (s *RedisCsrfStore) key(sessionTokenID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionTokenID)
}
