package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the failure counter and sets the lockout marker in
// one round trip. An elapsed lockout restarts the count. Every failure pushes
// the counter's expiry out by the retention window, matching the idle-row
// rule of the Postgres cleanup job.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local maxAttempts = tonumber(ARGV[2])
local lockoutMs = tonumber(ARGV[3])
local retentionMs = tonumber(ARGV[4])

local lock = redis.call('GET', KEYS[2])
if lock and tonumber(lock) <= now then
	redis.call('DEL', KEYS[1], KEYS[2])
end

local count = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], retentionMs)

if count >= maxAttempts then
	local lockUntil = now + lockoutMs
	redis.call('SET', KEYS[2], string.format('%d', lockUntil), 'PX', string.format('%d', lockoutMs + retentionMs))
	return {count, lockUntil}
end

return {count, 0}
`)

// RedisCounterStore keeps rate-limit counters in Redis instead of Postgres.
type RedisCounterStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisCounterStore(client redis.UniversalClient, retention time.Duration) *RedisCounterStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisCounterStore{client: client, prefix: "login_rate_limit", retention: retention}
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return redis.NewClient(opts), nil
}

func (s *RedisCounterStore) keys(ip string) []string {
	// Hash tag keeps both keys on one cluster slot for the script.
	base := fmt.Sprintf("%s:{%s}", s.prefix, ip)
	return []string{base + ":count", base + ":lock"}
}

func (s *RedisCounterStore) GetRateLimit(ctx context.Context, ip string) (RateLimitEntry, error) {
	entry := RateLimitEntry{IPAddress: ip}

	values, err := s.client.MGet(ctx, s.keys(ip)...).Result()
	if err != nil {
		return RateLimitEntry{}, storageError("read redis rate limit", err)
	}

	if raw, ok := values[0].(string); ok {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return RateLimitEntry{}, fmt.Errorf("parse redis counter: %w", err)
		}
		entry.FailedAttempts = count
	}
	if raw, ok := values[1].(string); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return RateLimitEntry{}, fmt.Errorf("parse redis lockout: %w", err)
		}
		until := time.UnixMilli(ms).UTC()
		entry.LockoutUntil = &until
	}

	return entry, nil
}

func (s *RedisCounterStore) IncrementFailure(ctx context.Context, ip string, maxAttempts int, lockout time.Duration, now time.Time) (RateLimitEntry, error) {
	result, err := incrementScript.Run(ctx, s.client, s.keys(ip),
		now.UnixMilli(), maxAttempts, lockout.Milliseconds(), s.retention.Milliseconds()).Int64Slice()
	if err != nil {
		return RateLimitEntry{}, storageError("increment redis rate limit", err)
	}
	if len(result) != 2 {
		return RateLimitEntry{}, errors.New("unexpected redis rate limit reply")
	}

	entry := RateLimitEntry{IPAddress: ip, FailedAttempts: int(result[0])}
	if result[1] > 0 {
		until := time.UnixMilli(result[1]).UTC()
		entry.LockoutUntil = &until
	}
	return entry, nil
}

func (s *RedisCounterStore) ClearRateLimit(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, s.keys(ip)...).Err(); err != nil {
		return storageError("clear redis rate limit", err)
	}
	return nil
}
