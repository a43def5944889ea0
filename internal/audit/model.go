package audit

import (
	"encoding/json"
	"time"
)

type Action string

const (
	ActionLoginSuccess       Action = "login_success"
	ActionLoginFailure       Action = "login_failure"
	ActionRateLimitExceeded  Action = "rate_limit_exceeded"
	ActionSessionExpired     Action = "session_expired"
	ActionLogout             Action = "logout"
	ActionUnauthorized       Action = "unauthorized_access"
	ActionAccountCreated     Action = "account_created"
	ActionAccountDeactivated Action = "account_deactivated"
)

// Unauthorized access reasons.
const (
	ReasonNoSessionToken      = "no_session_token"
	ReasonInvalidSessionToken = "invalid_session_token"
)

func (a Action) Valid() bool {
	switch a {
	case ActionLoginSuccess, ActionLoginFailure, ActionRateLimitExceeded, ActionSessionExpired,
		ActionLogout, ActionUnauthorized, ActionAccountCreated, ActionAccountDeactivated:
		return true
	}
	return false
}

// Entry is one append-only audit row.
type Entry struct {
	ID        string          `json:"id"`
	Action    Action          `json:"action"`
	Details   json.RawMessage `json:"details"`
	IPAddress string          `json:"ip_address"`
	UserAgent string          `json:"user_agent"`
	CreatedAt time.Time       `json:"created_at"`
}

type Event struct {
	Action    Action
	Details   any
	IPAddress string
	UserAgent string
}

// RequestMeta is what the gate knows about a denied request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// UnauthorizedDetails has a fixed shape whether or not geolocation succeeded.
type UnauthorizedDetails struct {
	Reason  string `json:"reason"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// Filter pages newest first. Before and BeforeID together form the keyset
// cursor of the last row already seen.
type Filter struct {
	Action   Action
	Before   time.Time
	BeforeID string
	Limit    int
}
