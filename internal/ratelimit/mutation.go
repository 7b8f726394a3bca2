package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/vestora/internal/config"
)

const keyMutationActor = "vestora:ratelimit:mutation:%s"

// MutationLimiter caps purchases, breakdown requests and admin writes per
// actor. A nil or disabled limiter allows everything.
type MutationLimiter struct {
	bucket *mutationBucket
	rate   float64
	burst  int
}

func NewMutationLimiter(cfg config.Config, client *redis.Client) *MutationLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	if cfg.RateLimit.MutationRate <= 0 || cfg.RateLimit.MutationBurst <= 0 {
		return nil
	}
	return &MutationLimiter{
		bucket: newMutationBucket(client),
		rate:   cfg.RateLimit.MutationRate,
		burst:  cfg.RateLimit.MutationBurst,
	}
}

func (l *MutationLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *MutationLimiter) AllowActor(ctx context.Context, actor string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyMutationActor, strings.TrimSpace(actor)), l.rate, l.burst)
}
