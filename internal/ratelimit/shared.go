package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript atomically enforces a requests-per-minute limit with
// a sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))
		return 1
`)

const sharedLimitKey = "llmops:ratelimit:rpm"

// SharedLimiter enforces a fleet-wide requests-per-minute ceiling via a
// Redis sliding window. It supplements the per-instance token buckets when
// the gateway runs with multiple replicas behind one Redis.
type SharedLimiter struct {
	rdb      *redis.Client
	rpmLimit int
}

// NewSharedLimiter creates a SharedLimiter with the given fleet RPM limit.
// rpmLimit must be > 0; values <= 0 will block every request.
func NewSharedLimiter(rdb *redis.Client, rpmLimit int) *SharedLimiter {
	return &SharedLimiter{rdb: rdb, rpmLimit: rpmLimit}
}

// Allow returns true if the current request is within the shared limit.
// A nil receiver always allows, so the gateway can run without Redis.
func (l *SharedLimiter) Allow(ctx context.Context) (bool, error) {
	if l == nil {
		return true, nil
	}
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{sharedLimitKey},
		now, window, l.rpmLimit,
	).Int()
	if err != nil {
		// Redis unavailable — allow request (graceful degradation).
		return true, nil
	}

	return result == 1, nil
}
