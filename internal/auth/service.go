package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admin-session/internal/audit"
	"admin-session/internal/observability"
)

// Failure reasons written to login_failure audit rows. They never reach the client.
const (
	reasonUnknownUser        = "unknown_user"
	reasonInvalidPassword    = "invalid_password"
	reasonAccountInactive    = "account_inactive"
	reasonMissingCredentials = "missing_credentials"
)

type AccountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)
	CreateFirstAccount(ctx context.Context, account Account) (Account, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	DeactivateAccount(ctx context.Context, username string) (Account, error)
}

// Auditor is best-effort: returned errors are logged by the implementation
// and ignored here.
type Auditor interface {
	Record(ctx context.Context, event audit.Event) error
	RecordUnauthorized(ctx context.Context, meta audit.RequestMeta, reason string) error
}

// Client is the caller context every flow records against.
type Client struct {
	IP        string
	UserAgent string
}

type LoginResult struct {
	Session Session
	User    AccountView
}

type StatusResult struct {
	Authenticated bool
	User          *AccountView
	ExpiresAt     time.Time
}

type Service struct {
	accounts    AccountStore
	sessions    *SessionManager
	limiter     *RateLimiter
	auditor     Auditor
	logger      *observability.Logger
	setupSecret string
	now         func() time.Time
}

func NewService(accounts AccountStore, sessions *SessionManager, limiter *RateLimiter, auditor Auditor, logger *observability.Logger) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		limiter:  limiter,
		auditor:  auditor,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithSetupSecret enables the one-time setup endpoint.
func (s *Service) WithSetupSecret(secret string) {
	s.setupSecret = strings.TrimSpace(secret)
}

func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

func (s *Service) Login(ctx context.Context, username, password string, client Client) (LoginResult, error) {
	username = normalizeUsername(username)

	locked, remaining, err := s.limiter.CheckLocked(ctx, client.IP)
	if err != nil {
		return LoginResult{}, err
	}
	if locked {
		_ = s.auditor.Record(ctx, audit.Event{
			Action: audit.ActionRateLimitExceeded,
			Details: map[string]any{
				"username":         username,
				"remainingMinutes": LockoutMinutes(remaining),
			},
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
		return LoginResult{}, ErrLoginLocked{Remaining: remaining}
	}

	if username == "" || password == "" {
		return LoginResult{}, s.loginFailed(ctx, username, reasonMissingCredentials, client)
	}

	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnVerification(password)
			return LoginResult{}, s.loginFailed(ctx, username, reasonUnknownUser, client)
		}
		return LoginResult{}, err
	}

	passwordOK := VerifyPassword(password, account.PasswordHash, account.Salt)
	if !account.Active {
		return LoginResult{}, s.loginFailed(ctx, username, reasonAccountInactive, client)
	}
	if !passwordOK {
		return LoginResult{}, s.loginFailed(ctx, username, reasonInvalidPassword, client)
	}

	if err := s.limiter.Clear(ctx, client.IP); err != nil {
		return LoginResult{}, err
	}

	session, err := s.sessions.Issue(ctx, account.ID, client.IP, client.UserAgent)
	if err != nil {
		return LoginResult{}, err
	}

	// The response shows the previous login, so the row is updated after reading it.
	view := account.View()
	if err := s.accounts.TouchLastLogin(ctx, account.ID, session.CreatedAt); err != nil {
		s.logger.Warn("touch_last_login_failed", map[string]any{"account_id": account.ID, "error": err.Error()})
	}

	_ = s.auditor.Record(ctx, audit.Event{
		Action:    audit.ActionLoginSuccess,
		Details:   map[string]any{"username": account.Username, "accountId": account.ID},
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})

	return LoginResult{Session: session, User: view}, nil
}

// loginFailed counts the failure and always answers with the generic error
// unless the counter store itself failed.
func (s *Service) loginFailed(ctx context.Context, username, reason string, client Client) error {
	entry, err := s.limiter.RecordFailure(ctx, client.IP)
	if err != nil {
		return err
	}

	_ = s.auditor.Record(ctx, audit.Event{
		Action: audit.ActionLoginFailure,
		Details: map[string]any{
			"username":       username,
			"reason":         reason,
			"failedAttempts": entry.FailedAttempts,
		},
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})

	if entry.LockedAt(s.now()) && entry.FailedAttempts == s.limiter.MaxAttempts() {
		_ = s.auditor.Record(ctx, audit.Event{
			Action: audit.ActionRateLimitExceeded,
			Details: map[string]any{
				"username":         username,
				"failedAttempts":   entry.FailedAttempts,
				"remainingMinutes": LockoutMinutes(entry.LockoutUntil.Sub(s.now())),
			},
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
	}

	return ErrInvalidCredentials
}

// Status validates the session and, when it is live, slides its expiry.
func (s *Service) Status(ctx context.Context, token string, client Client) (StatusResult, error) {
	if token == "" {
		return StatusResult{}, nil
	}

	session, verdict, err := s.sessions.Validate(ctx, token, client.IP)
	if err != nil {
		return StatusResult{}, err
	}
	if verdict == VerdictExpired {
		_ = s.auditor.Record(ctx, audit.Event{
			Action:    audit.ActionSessionExpired,
			Details:   map[string]any{"accountId": session.AccountID, "expiredAt": session.ExpiresAt},
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
	}
	if !verdict.OK() {
		return StatusResult{}, nil
	}

	account, err := s.accounts.GetAccountByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusResult{}, nil
		}
		return StatusResult{}, err
	}
	if !account.Active {
		return StatusResult{}, nil
	}

	expiresAt, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		return StatusResult{}, err
	}

	view := account.View()
	return StatusResult{Authenticated: true, User: &view, ExpiresAt: expiresAt}, nil
}

// Logout revokes whatever token was presented. Only a storage failure is an error.
func (s *Service) Logout(ctx context.Context, token string, client Client) error {
	if !WellFormedToken(token) {
		return nil
	}

	session, verdict, err := s.sessions.Validate(ctx, token, client.IP)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}

	details := map[string]any{}
	if verdict.OK() {
		details["accountId"] = session.AccountID
	}
	_ = s.auditor.Record(ctx, audit.Event{
		Action:    audit.ActionLogout,
		Details:   details,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	return nil
}

// Setup creates the first account. It is refused once any account exists.
func (s *Service) Setup(ctx context.Context, setupToken, username, password string, client Client) (AccountView, error) {
	if s.setupSecret == "" {
		return AccountView{}, ErrSetupDisabled
	}
	if err := VerifySetupToken(s.setupSecret, setupToken); err != nil {
		return AccountView{}, err
	}

	account, err := s.createFirstAccount(ctx, username, password)
	if err != nil {
		return AccountView{}, err
	}

	_ = s.auditor.Record(ctx, audit.Event{
		Action:    audit.ActionAccountCreated,
		Details:   map[string]any{"username": account.Username, "accountId": account.ID, "via": "setup"},
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	return account.View(), nil
}

// Deactivate disables an account and revokes all of its sessions.
func (s *Service) Deactivate(ctx context.Context, username string, actor Session, client Client) (AccountView, error) {
	account, err := s.accounts.DeactivateAccount(ctx, normalizeUsername(username))
	if err != nil {
		return AccountView{}, err
	}
	if err := s.sessions.RevokeAccount(ctx, account.ID); err != nil {
		return AccountView{}, err
	}

	_ = s.auditor.Record(ctx, audit.Event{
		Action: audit.ActionAccountDeactivated,
		Details: map[string]any{
			"username":  account.Username,
			"accountId": account.ID,
			"actorId":   actor.AccountID,
		},
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	return account.View(), nil
}

// BootstrapFromEnv creates the first account from ADMIN_USERNAME/ADMIN_PASSWORD
// when the table is empty. It never touches an existing account.
func (s *Service) BootstrapFromEnv(ctx context.Context, adminUsername, adminPassword string) error {
	adminUsername = normalizeUsername(adminUsername)
	adminPassword = strings.TrimSpace(adminPassword)

	if adminUsername == "" && adminPassword == "" {
		return nil
	}
	if adminUsername == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	account, err := s.createFirstAccount(ctx, adminUsername, adminPassword)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil
		}
		return err
	}

	_ = s.auditor.Record(ctx, audit.Event{
		Action:    audit.ActionAccountCreated,
		Details:   map[string]any{"username": account.Username, "accountId": account.ID, "via": "bootstrap"},
		IPAddress: UnknownIP,
	})
	return nil
}

func (s *Service) createFirstAccount(ctx context.Context, username, password string) (Account, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return Account{}, fmt.Errorf("generate salt: %w", err)
	}

	return s.accounts.CreateFirstAccount(ctx, Account{
		Username:     normalizeUsername(username),
		PasswordHash: HashPassword(password, salt),
		Salt:         salt,
		Active:       true,
	})
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
