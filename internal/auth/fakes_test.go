package auth

import (
	"context"
	"sync"
	"time"

	"admin-session/internal/audit"
)

// memoryStore implements AccountStore, SessionStore and RateLimitStore.
type memoryStore struct {
	mu             sync.Mutex
	accounts       map[string]Account
	sessions       map[string]Session
	rateLimits     map[string]RateLimitEntry
	sessionLookups int
	err            error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:   make(map[string]Account),
		sessions:   make(map[string]Session),
		rateLimits: make(map[string]RateLimitEntry),
	}
}

func (s *memoryStore) addAccount(username, password string, active bool) Account {
	salt, _ := GenerateSalt()
	account := Account{
		ID:           "acct-" + username,
		Username:     username,
		PasswordHash: HashPassword(password, salt),
		Salt:         salt,
		Active:       active,
		CreatedAt:    time.Now().UTC(),
	}
	s.mu.Lock()
	s.accounts[username] = account
	s.mu.Unlock()
	return account
}

func (s *memoryStore) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Account{}, s.err
	}
	account, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (s *memoryStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Account{}, s.err
	}
	for _, account := range s.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *memoryStore) CountAccounts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return len(s.accounts), nil
}

func (s *memoryStore) CreateFirstAccount(ctx context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Account{}, s.err
	}
	if len(s.accounts) > 0 {
		return Account{}, ErrAccountExists
	}
	if account.ID == "" {
		account.ID = "acct-" + account.Username
	}
	s.accounts[account.Username] = account
	return account, nil
}

func (s *memoryStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for username, account := range s.accounts {
		if account.ID == id {
			value := at
			account.LastLogin = &value
			s.accounts[username] = account
		}
	}
	return nil
}

func (s *memoryStore) DeactivateAccount(ctx context.Context, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	account.Active = false
	s.accounts[username] = account
	return account, nil
}

func (s *memoryStore) CreateSession(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *memoryStore) GetSession(ctx context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLookups++
	if s.err != nil {
		return Session{}, s.err
	}
	session, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *memoryStore) ExtendSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if session, ok := s.sessions[token]; ok && session.Active {
		session.ExpiresAt = expiresAt
		s.sessions[token] = session
	}
	return nil
}

func (s *memoryStore) DeactivateSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if session, ok := s.sessions[token]; ok {
		session.Active = false
		s.sessions[token] = session
	}
	return nil
}

func (s *memoryStore) DeactivateAccountSessions(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, session := range s.sessions {
		if session.AccountID == accountID {
			session.Active = false
			s.sessions[token] = session
		}
	}
	return nil
}

func (s *memoryStore) GetRateLimit(ctx context.Context, ip string) (RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return RateLimitEntry{}, s.err
	}
	entry, ok := s.rateLimits[ip]
	if !ok {
		return RateLimitEntry{IPAddress: ip}, nil
	}
	return entry, nil
}

func (s *memoryStore) IncrementFailure(ctx context.Context, ip string, maxAttempts int, lockout time.Duration, now time.Time) (RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return RateLimitEntry{}, s.err
	}
	entry := s.rateLimits[ip]
	entry.IPAddress = ip
	if entry.LockoutUntil != nil && !now.Before(*entry.LockoutUntil) {
		entry.FailedAttempts = 0
	}
	entry.FailedAttempts++
	entry.LockoutUntil = nil
	if entry.FailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		entry.LockoutUntil = &until
	}
	s.rateLimits[ip] = entry
	return entry, nil
}

func (s *memoryStore) ClearRateLimit(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.rateLimits, ip)
	return nil
}

func (s *memoryStore) lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLookups
}

type unauthorizedRecord struct {
	meta   audit.RequestMeta
	reason string
}

type recordingAuditor struct {
	mu           sync.Mutex
	events       []audit.Event
	unauthorized []unauthorizedRecord
}

func (a *recordingAuditor) Record(ctx context.Context, event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAuditor) RecordUnauthorized(ctx context.Context, meta audit.RequestMeta, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unauthorized = append(a.unauthorized, unauthorizedRecord{meta: meta, reason: reason})
	return nil
}

func (a *recordingAuditor) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.events))
	for _, event := range a.events {
		out = append(out, event.Action)
	}
	return out
}

func (a *recordingAuditor) reasons() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.unauthorized))
	for _, record := range a.unauthorized {
		out = append(out, record.reason)
	}
	return out
}

// clock is a settable time source shared by the components under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
