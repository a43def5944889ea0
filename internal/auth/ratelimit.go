package auth

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// RateLimitStore is satisfied by Repository (Postgres) and RedisCounterStore.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, ip string) (RateLimitEntry, error)
	IncrementFailure(ctx context.Context, ip string, maxAttempts int, lockout time.Duration, now time.Time) (RateLimitEntry, error)
	ClearRateLimit(ctx context.Context, ip string) error
}

type RateLimiter struct {
	store        RateLimitStore
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

func NewRateLimiter(store RateLimitStore, maxAttempts int, lockDuration time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockWindow
	}
	return &RateLimiter{
		store:        store,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *RateLimiter) MaxAttempts() int {
	return l.maxAttempts
}

// CheckLocked reports whether ip is inside a lockout window and how long is left.
func (l *RateLimiter) CheckLocked(ctx context.Context, ip string) (bool, time.Duration, error) {
	entry, err := l.store.GetRateLimit(ctx, ip)
	if err != nil {
		return false, 0, err
	}
	now := l.now()
	if !entry.LockedAt(now) {
		return false, 0, nil
	}
	return true, entry.LockoutUntil.Sub(now), nil
}

// RecordFailure counts one failed attempt. The returned entry carries the
// lockout deadline once the threshold is reached.
func (l *RateLimiter) RecordFailure(ctx context.Context, ip string) (RateLimitEntry, error) {
	return l.store.IncrementFailure(ctx, ip, l.maxAttempts, l.lockDuration, l.now())
}

func (l *RateLimiter) Clear(ctx context.Context, ip string) error {
	return l.store.ClearRateLimit(ctx, ip)
}

// LockoutMinutes rounds up so "0 minutes" is never shown while still locked.
func LockoutMinutes(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}
