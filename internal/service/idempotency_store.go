package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateReplay     IdempotencyState = "replay"
)

type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore lets a client retry register safely: replaying the same
// Idempotency-Key with the same request fingerprint returns the original
// response instead of a NICKNAME_EXISTS failure.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error
}

type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyResult, error) {
	redisKey := s.redisKey(scope, key)
	created, err := s.client.HSetNX(ctx, redisKey, "fingerprint", fingerprint).Result()
	if err != nil {
		return IdempotencyResult{}, err
	}
	if created {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, redisKey, "status", "in_progress")
		pipe.PExpire(ctx, redisKey, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return IdempotencyResult{}, err
		}
		return IdempotencyResult{State: IdempotencyStateNew}, nil
	}

	vals, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return IdempotencyResult{}, err
	}
	if vals["fingerprint"] != fingerprint {
		return IdempotencyResult{State: IdempotencyStateConflict}, nil
	}
	if vals["status"] != "completed" {
		return IdempotencyResult{State: IdempotencyStateInProgress}, nil
	}
	status, err := strconv.Atoi(vals["response_status"])
	if err != nil {
		return IdempotencyResult{}, fmt.Errorf("parse replay status: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(vals["response_body"])
	if err != nil {
		return IdempotencyResult{}, fmt.Errorf("decode replay body: %w", err)
	}
	return IdempotencyResult{
		State: IdempotencyStateReplay,
		Cached: &CachedHTTPResponse{
			StatusCode:  status,
			ContentType: vals["content_type"],
			Body:        body,
		},
	}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	redisKey := s.redisKey(scope, key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey,
		"fingerprint", fingerprint,
		"status", "completed",
		"response_status", strconv.Itoa(resp.StatusCode),
		"content_type", resp.ContentType,
		"response_body", base64.StdEncoding.EncodeToString(resp.Body),
	)
	pipe.PExpire(ctx, redisKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisIdempotencyStore) redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}
