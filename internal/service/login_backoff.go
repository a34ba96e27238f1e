package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginBackoffGuard adds an escalating per-identity cooldown on repeated
// failed logins. It sits under the route rate limiter: the limiter caps raw
// request volume per IP, the guard slows a targeted attack on one account
// even when the attacker rotates IP-adjacent requests within the window.
type LoginBackoffGuard interface {
	Check(ctx context.Context, identifier, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, identifier, ip string) (time.Duration, error)
	Reset(ctx context.Context, identifier, ip string) error
}

type LoginBackoffPolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p LoginBackoffPolicy) normalized() LoginBackoffPolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

type NoopLoginBackoffGuard struct{}

func NewNoopLoginBackoffGuard() *NoopLoginBackoffGuard { return &NoopLoginBackoffGuard{} }

func (g *NoopLoginBackoffGuard) Check(context.Context, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopLoginBackoffGuard) RegisterFailure(context.Context, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopLoginBackoffGuard) Reset(context.Context, string, string) error { return nil }

type RedisLoginBackoffGuard struct {
	client redis.UniversalClient
	prefix string
	policy LoginBackoffPolicy
}

func NewRedisLoginBackoffGuard(client redis.UniversalClient, prefix string, policy LoginBackoffPolicy) *RedisLoginBackoffGuard {
	if prefix == "" {
		prefix = "login_backoff"
	}
	return &RedisLoginBackoffGuard{client: client, prefix: prefix, policy: policy.normalized()}
}

func (g *RedisLoginBackoffGuard) Check(ctx context.Context, identifier, ip string) (time.Duration, error) {
	vals, err := g.client.HGetAll(ctx, g.stateKey(identifier, ip)).Result()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	until, err := parseMillisField(vals, "cooldown_until_ms")
	if err != nil {
		return 0, err
	}
	remaining := time.Until(until)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (g *RedisLoginBackoffGuard) RegisterFailure(ctx context.Context, identifier, ip string) (time.Duration, error) {
	key := g.stateKey(identifier, ip)
	failures, err := g.client.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	cooldown := g.cooldownFor(failures)
	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, key,
		"last_failure_ms", strconv.FormatInt(now.UnixMilli(), 10),
		"cooldown_until_ms", strconv.FormatInt(now.Add(cooldown).UnixMilli(), 10),
	)
	pipe.PExpire(ctx, key, g.policy.ResetWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cooldown, nil
}

func (g *RedisLoginBackoffGuard) Reset(ctx context.Context, identifier, ip string) error {
	return g.client.Del(ctx, g.stateKey(identifier, ip)).Err()
}

func (g *RedisLoginBackoffGuard) cooldownFor(failures int64) time.Duration {
	over := failures - int64(g.policy.FreeAttempts)
	if over <= 0 {
		return 0
	}
	delay := float64(g.policy.BaseDelay) * math.Pow(g.policy.Multiplier, float64(over-1))
	if delay > float64(g.policy.MaxDelay) {
		return g.policy.MaxDelay
	}
	return time.Duration(delay)
}

func (g *RedisLoginBackoffGuard) stateKey(identifier, ip string) string {
	return fmt.Sprintf("%s:id:%s:ip:%s", g.prefix, hashIdentity(identifier), ip)
}

func hashIdentity(identifier string) string {
	normalized := strings.ToLower(strings.TrimSpace(identifier))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

func parseMillisField(vals map[string]string, field string) (time.Time, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return time.UnixMilli(ms), nil
}
