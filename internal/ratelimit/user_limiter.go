package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bulkbuy/internal/config"
)

const keyUserWrites = "bulkbuy:ratelimit:user:%s"

// UserLimiter throttles mutating requests per user. A nil limiter allows everything.
type UserLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUserLimiter(cfg config.Config, client *redis.Client) (*UserLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.UserRate <= 0 || limitCfg.UserBurst <= 0 {
		return nil, errors.New("user rate limit must be positive")
	}
	return &UserLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.UserRate,
		burst:  limitCfg.UserBurst,
	}, nil
}

func (l *UserLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UserLimiter) Allow(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUserWrites, strings.TrimSpace(userID)), l.rate, l.burst)
}
