package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/gdscore/scoreboard-server/internal/redis"
)

// slidingWindowScript keeps one sorted-set member per admitted event, scored by
// its timestamp in milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 10000)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, tonumber(oldest[2]) + window}
`)

// Redis is a sliding window limiter shared by every server instance using the
// same Redis.
type Redis struct {
	client redis.Scripter
	clock  clockwork.Clock
}

func NewRedis(client redis.Scripter, clock clockwork.Clock) *Redis {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Redis{client: client, clock: clock}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	now := r.clock.Now()

	result, err := slidingWindowScript.Run(
		ctx,
		r.client,
		[]string{redisclient.RateLimitKey(key)},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("redis rate limit check failed, allowing request")
		return true, now.Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected redis rate limit result, allowing request")
		return true, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}
