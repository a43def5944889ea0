package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Policy bounds every statement with a per-attempt timeout. Only Write retries,
// and only on transient failures.
type Policy struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

func (p Policy) Read(ctx context.Context, op func(ctx context.Context) error) error {
	attemptCtx, cancel := p.attemptContext(ctx)
	defer cancel()
	return op(attemptCtx)
}

func (p Policy) Write(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := p.attemptContext(ctx)
		err = op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}

func (p Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

// IsTransient reports whether a failed statement is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
