package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"go.uber.org/zap"
)

const (
	defaultPlanTTL = 5 * time.Minute
	keyPlan        = "vestora:plan:%s"
)

// PlanCache serves hot catalog reads. Writers invalidate after commit; the
// purchase path never reads through it.
type PlanCache interface {
	Get(ctx context.Context, id snowflake.ID) (plandomain.Plan, bool)
	Set(ctx context.Context, plan plandomain.Plan)
	Invalidate(ctx context.Context, id snowflake.ID)
}

// NewPlanCache uses redis when a client is configured and a process-local TTL
// map otherwise.
func NewPlanCache(client *redis.Client, log *zap.Logger) PlanCache {
	if client == nil {
		return NewMemoryPlanCache(defaultPlanTTL)
	}
	return &redisPlanCache{client: client, ttl: defaultPlanTTL, log: log.Named("plan.cache")}
}

type redisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func (c *redisPlanCache) Get(ctx context.Context, id snowflake.ID) (plandomain.Plan, bool) {
	raw, err := c.client.Get(ctx, fmt.Sprintf(keyPlan, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("plan cache read failed", zap.String("plan_id", id.String()), zap.Error(err))
		}
		return plandomain.Plan{}, false
	}

	var plan plandomain.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return plandomain.Plan{}, false
	}
	return plan, true
}

func (c *redisPlanCache) Set(ctx context.Context, plan plandomain.Plan) {
	if plan.ID == 0 {
		return
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, fmt.Sprintf(keyPlan, plan.ID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("plan cache write failed", zap.String("plan_id", plan.ID.String()), zap.Error(err))
	}
}

func (c *redisPlanCache) Invalidate(ctx context.Context, id snowflake.ID) {
	if err := c.client.Del(ctx, fmt.Sprintf(keyPlan, id)).Err(); err != nil {
		c.log.Warn("plan cache invalidate failed", zap.String("plan_id", id.String()), zap.Error(err))
	}
}

type memoryEntry struct {
	plan      plandomain.Plan
	expiresAt time.Time
}

type memoryPlanCache struct {
	mu      sync.RWMutex
	entries map[snowflake.ID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryPlanCache(ttl time.Duration) PlanCache {
	return &memoryPlanCache{
		entries: make(map[snowflake.ID]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *memoryPlanCache) Get(_ context.Context, id snowflake.ID) (plandomain.Plan, bool) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return plandomain.Plan{}, false
	}
	return entry.plan, true
}

func (c *memoryPlanCache) Set(_ context.Context, plan plandomain.Plan) {
	if plan.ID == 0 {
		return
	}
	c.mu.Lock()
	c.entries[plan.ID] = memoryEntry{plan: plan, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *memoryPlanCache) Invalidate(_ context.Context, id snowflake.ID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
