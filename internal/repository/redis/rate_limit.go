package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/community-identity/internal/core/port"
)

// slidingWindowScript trims expired attempts, counts the rest and records the
// new attempt only when the count is still under the limit. Scores are unix
// milliseconds. Returns {allowed, count, oldestScore}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = '0'
if #oldest > 1 then
  oldestScore = oldest[2]
end
return {allowed, count, oldestScore}
`)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
}

// RateLimitRepository persists rate-limit attempts in Redis sorted sets.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Hit runs the trim, count and record steps atomically inside Redis.
func (r *RateLimitRepository) Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.RateLimitHit, error) {
	if window <= 0 {
		return port.RateLimitHit{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.RateLimitHit{}, errors.New("limit must be positive")
	}

	nowMillis := at.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMillis, uuid.NewString())

	raw, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.key(identifier)},
		nowMillis, window.Milliseconds(), limit, member,
	).Result()
	if err != nil {
		return port.RateLimitHit{}, fmt.Errorf("redis sliding window: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return port.RateLimitHit{}, fmt.Errorf("redis sliding window: unexpected reply %T", raw)
	}

	allowed, err := toInt64(values[0])
	if err != nil {
		return port.RateLimitHit{}, err
	}
	count, err := toInt64(values[1])
	if err != nil {
		return port.RateLimitHit{}, err
	}
	oldestMillis, err := toInt64(values[2])
	if err != nil {
		return port.RateLimitHit{}, err
	}

	hit := port.RateLimitHit{Allowed: allowed == 1, Count: int(count)}
	if oldestMillis > 0 {
		hit.Oldest = time.UnixMilli(oldestMillis).UTC()
	}
	return hit, nil
}

// Reset removes all recorded attempts for identifier.
func (r *RateLimitRepository) Reset(ctx context.Context, identifier string) error {
	if err := r.client.Del(ctx, r.key(identifier)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse script value %q: %w", v, err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected script value type %T", value)
	}
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
