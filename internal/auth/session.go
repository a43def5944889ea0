package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

const (
	defaultSessionDuration = 24 * time.Hour
	// UnknownIP is what ClientIP returns when no address could be resolved.
	UnknownIP = "unknown"
)

type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	ExtendSession(ctx context.Context, token string, expiresAt time.Time) error
	DeactivateSession(ctx context.Context, token string) error
	DeactivateAccountSessions(ctx context.Context, accountID string) error
}

// Verdict is the detailed outcome of a validation. Only OK() may reach an
// unauthenticated caller; the rest is for audit and logs.
type Verdict int

const (
	VerdictValid Verdict = iota
	VerdictMalformed
	VerdictNotFound
	VerdictInactive
	VerdictExpired
	VerdictIPMismatch
	VerdictUnknownIP
)

func (v Verdict) OK() bool {
	return v == VerdictValid
}

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictMalformed:
		return "malformed"
	case VerdictNotFound:
		return "not_found"
	case VerdictInactive:
		return "inactive"
	case VerdictExpired:
		return "expired"
	case VerdictIPMismatch:
		return "ip_mismatch"
	case VerdictUnknownIP:
		return "unknown_ip"
	}
	return "invalid"
}

type SessionManager struct {
	store    SessionStore
	duration time.Duration
	now      func() time.Time
}

func NewSessionManager(store SessionStore, duration time.Duration) *SessionManager {
	if duration <= 0 {
		duration = defaultSessionDuration
	}
	return &SessionManager{
		store:    store,
		duration: duration,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *SessionManager) Duration() time.Duration {
	return m.duration
}

// Issue creates a session bound to ip. The binding never changes afterwards.
func (m *SessionManager) Issue(ctx context.Context, accountID, ip, userAgent string) (Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now()
	session := Session{
		Token:     token,
		AccountID: accountID,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(m.duration),
		Active:    true,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Validate never touches storage for a malformed token. A non-nil error
// means the store failed and no verdict could be reached.
func (m *SessionManager) Validate(ctx context.Context, token, ip string) (Session, Verdict, error) {
	if !WellFormedToken(token) {
		return Session{}, VerdictMalformed, nil
	}
	if ip == "" || ip == UnknownIP {
		return Session{}, VerdictUnknownIP, nil
	}

	session, err := m.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, VerdictNotFound, nil
		}
		return Session{}, VerdictNotFound, err
	}

	switch {
	case !session.Active:
		return session, VerdictInactive, nil
	case !m.now().Before(session.ExpiresAt):
		return session, VerdictExpired, nil
	case subtle.ConstantTimeCompare([]byte(session.IPAddress), []byte(ip)) != 1:
		return session, VerdictIPMismatch, nil
	}
	return session, VerdictValid, nil
}

// Refresh slides the expiry forward by the session duration.
func (m *SessionManager) Refresh(ctx context.Context, token string) (time.Time, error) {
	expiresAt := m.now().Add(m.duration)
	if err := m.store.ExtendSession(ctx, token, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Revoke is idempotent. Unknown, inactive and malformed tokens are no-ops.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if !WellFormedToken(token) {
		return nil
	}
	return m.store.DeactivateSession(ctx, token)
}

func (m *SessionManager) RevokeAccount(ctx context.Context, accountID string) error {
	return m.store.DeactivateAccountSessions(ctx, accountID)
}
