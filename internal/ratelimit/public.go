package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/finvo/internal/config"
)

const keyPublicRedeem = "redeem:ip:%s"

// PublicLimiter throttles unauthenticated redemption traffic per source
// address. Disabled when rate limiting is off, in which case every call
// is allowed.
type PublicLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPublicLimiter(cfg config.Config) (*PublicLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if cfg.PublicRate <= 0 || cfg.PublicBurst <= 0 {
		return nil, errors.New("public rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &PublicLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.PublicRate,
		burst:   cfg.PublicBurst,
	}, nil
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PublicLimiter) Allow(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPublicRedeem, strings.TrimSpace(clientIP)), l.rate, l.burst)
}
