package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/taxengine/internal/config"
)

const keyCalculateOrg = "taxengine:calculate:org:%s"

// CalculateLimiter throttles tax calculations per organization.
type CalculateLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewCalculateLimiter returns nil when rate limiting is disabled.
func NewCalculateLimiter(cfg config.Config, client *redis.Client) (*CalculateLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.CalculateRate <= 0 || limitCfg.CalculateBurst <= 0 {
		return nil, errors.New("calculate rate limit must be positive")
	}

	return &CalculateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.CalculateRate,
		burst:   limitCfg.CalculateBurst,
	}, nil
}

func (l *CalculateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CalculateLimiter) AllowOrg(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCalculateOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
