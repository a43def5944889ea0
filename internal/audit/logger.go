// Package audit records security events. Recording is best-effort: every
// method returns an error the caller may ignore, and no failure here is
// allowed to change an allow/deny decision.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"admin-session/internal/geo"
	"admin-session/internal/observability"
)

const defaultWriteTimeout = 3 * time.Second

type Store interface {
	Insert(ctx context.Context, entry Entry) error
}

type Locator interface {
	Lookup(ctx context.Context, ip string) geo.Location
}

type Logger struct {
	store   Store
	locator Locator
	logger  *observability.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewLogger(store Store, locator Locator, logger *observability.Logger) *Logger {
	return &Logger{
		store:   store,
		locator: locator,
		logger:  logger,
		timeout: defaultWriteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) Record(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil || event.Details == nil {
		details = []byte("{}")
	}

	entry := Entry{
		Action:    event.Action,
		Details:   details,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		CreatedAt: l.now(),
	}

	// Detached from the request so a client hanging up does not drop the row.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.Insert(writeCtx, entry); err != nil {
		l.logger.Error("audit_write_failed", map[string]any{
			"action": string(event.Action),
			"ip":     event.IPAddress,
			"error":  err.Error(),
		})
		sentry.CaptureException(err)
		return fmt.Errorf("record %s: %w", event.Action, err)
	}

	return nil
}

// RecordUnauthorized enriches the entry with geolocation before writing it.
func (l *Logger) RecordUnauthorized(ctx context.Context, meta RequestMeta, reason string) error {
	location := geo.UnknownLocation()
	if l.locator != nil {
		location = l.locator.Lookup(context.WithoutCancel(ctx), meta.IPAddress)
	}

	return l.Record(ctx, Event{
		Action: ActionUnauthorized,
		Details: UnauthorizedDetails{
			Reason:  reason,
			Method:  meta.Method,
			Path:    meta.Path,
			Country: location.Country,
			Region:  location.Region,
			City:    location.City,
			ISP:     location.ISP,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}
