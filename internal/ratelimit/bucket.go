package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeTokenScript refills the actor's bucket from the redis clock, so every
// API replica sees the same elapsed time, then takes one token if it can.
// Returns {granted, level}.
const takeTokenScript = `
local key = KEYS[1]
local perSecond = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local expiryMs = tonumber(ARGV[3])

local clock = redis.call("TIME")
local nowMs = clock[1] * 1000 + math.floor(clock[2] / 1000)

local level = tonumber(redis.call("HGET", key, "level"))
local stamp = tonumber(redis.call("HGET", key, "stamp"))
if level == nil or stamp == nil then
  level = capacity
else
  local elapsed = math.max(0, nowMs - stamp)
  level = math.min(capacity, level + elapsed * perSecond / 1000)
end

local granted = 0
if level >= 1 then
  granted = 1
  level = level - 1
end

redis.call("HSET", key, "level", tostring(level), "stamp", nowMs)
redis.call("PEXPIRE", key, expiryMs)
return {granted, tostring(level)}
`

var (
	errBucketUnconfigured = errors.New("ratelimit: mutation bucket has no redis client")
	errBucketKey          = errors.New("ratelimit: empty actor key")
	errBucketShape        = errors.New("ratelimit: rate and burst must be positive")
	errBucketReply        = errors.New("ratelimit: unexpected script reply")
)

// Result is the outcome of one mutation attempt against an actor's bucket.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type mutationBucket struct {
	rdb  *redis.Client
	take *redis.Script
}

func newMutationBucket(rdb *redis.Client) *mutationBucket {
	if rdb == nil {
		return nil
	}
	return &mutationBucket{rdb: rdb, take: redis.NewScript(takeTokenScript)}
}

// Take spends one token from the bucket under key. perSecond is the refill
// rate and capacity the burst an idle actor gets back.
func (b *mutationBucket) Take(ctx context.Context, key string, perSecond float64, capacity int) (Result, error) {
	switch {
	case b == nil || b.rdb == nil:
		return Result{}, errBucketUnconfigured
	case key == "":
		return Result{}, errBucketKey
	case perSecond <= 0 || capacity <= 0:
		return Result{}, errBucketShape
	}

	expiry := idleExpiry(perSecond, capacity)
	reply, err := b.take.Run(ctx, b.rdb, []string{key}, perSecond, capacity, expiry.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(reply) != 2 {
		return Result{}, errBucketReply
	}

	level := scriptFloat(reply[1])
	res := Result{
		Allowed:   scriptInt(reply[0]) == 1,
		Limit:     capacity,
		Remaining: int(level),
	}
	if !res.Allowed {
		res.RetryAfter = refillWait(level, perSecond)
	}
	return res, nil
}

// refillWait is how long until the bucket holds one whole token again.
func refillWait(level, perSecond float64) time.Duration {
	if perSecond <= 0 || level >= 1 {
		return 0
	}
	return time.Duration((1 - level) / perSecond * float64(time.Second))
}

// idleExpiry keeps a bucket around for twice its full refill time, at least
// one second. A bucket that expired would have refilled to capacity anyway.
func idleExpiry(perSecond float64, capacity int) time.Duration {
	if perSecond <= 0 || capacity <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2*float64(capacity)/perSecond))
	return time.Duration(seconds) * time.Second
}

func scriptInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func scriptFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	}
	return 0
}
