package auth

import "time"

type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Salt         string
	Active       bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is keyed by the raw token in memory; only its hash is persisted.
type Session struct {
	Token     string
	AccountID string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

type RateLimitEntry struct {
	IPAddress      string
	FailedAttempts int
	LockoutUntil   *time.Time
}

func (e RateLimitEntry) LockedAt(now time.Time) bool {
	return e.LockoutUntil != nil && now.Before(*e.LockoutUntil)
}

type AccountView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	LastLogin *time.Time `json:"lastLogin"`
}

func (a Account) View() AccountView {
	return AccountView{ID: a.ID, Username: a.Username, LastLogin: a.LastLogin}
}
