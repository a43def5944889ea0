package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"admin-session/internal/db"
)

const (
	uniqueViolation = "23505"

	// firstAccountLockKey guards the empty-table check in CreateFirstAccount.
	firstAccountLockKey int64 = 0x61646d696e
)

type Repository struct {
	db     *sql.DB
	policy db.Policy
}

type CleanupResult struct {
	DeletedSessions   int64 `json:"deleted_sessions"`
	DeletedRateLimits int64 `json:"deleted_rate_limits"`
}

func NewRepository(database *sql.DB, policy db.Policy) *Repository {
	return &Repository{db: database, policy: policy}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// accounts

const accountColumns = `id, username, password_hash, salt, is_active, last_login, created_at, updated_at`

func scanAccount(row *sql.Row) (Account, error) {
	var account Account
	var lastLogin sql.NullTime
	err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Salt,
		&account.Active, &lastLogin, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		account.LastLogin = &value
	}
	return account, nil
}

func (r *Repository) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	var account Account
	err := r.policy.Read(ctx, func(ctx context.Context) error {
		var err error
		account, err = scanAccount(r.db.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM admin_accounts WHERE username = $1`, username))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, storageError("query account by username", err)
	}
	return account, nil
}

func (r *Repository) GetAccountByID(ctx context.Context, id string) (Account, error) {
	var account Account
	err := r.policy.Read(ctx, func(ctx context.Context) error {
		var err error
		account, err = scanAccount(r.db.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM admin_accounts WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, storageError("query account by id", err)
	}
	return account, nil
}

// CreateFirstAccount inserts the account only while no account exists. The
// advisory lock serializes concurrent callers so exactly one of them wins.
func (r *Repository) CreateFirstAccount(ctx context.Context, account Account) (Account, error) {
	if account.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Account{}, fmt.Errorf("generate account id: %w", err)
		}
		account.ID = id.String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	err := r.policy.Write(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, firstAccountLockKey); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO admin_accounts (id, username, password_hash, salt, is_active, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, $6, $6
			WHERE NOT EXISTS (SELECT 1 FROM admin_accounts)
		`, account.ID, account.Username, account.PasswordHash, account.Salt, account.Active, now)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return ErrAccountExists
		}
		return tx.Commit()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, ErrAccountExists) || (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) {
			return Account{}, ErrAccountExists
		}
		return Account{}, storageError("insert first account", err)
	}
	return account, nil
}

func (r *Repository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			UPDATE admin_accounts SET last_login = $2, updated_at = $2 WHERE id = $1
		`, id, at.UTC())
		return err
	})
	if err != nil {
		return storageError("update last login", err)
	}
	return nil
}

func (r *Repository) DeactivateAccount(ctx context.Context, username string) (Account, error) {
	var account Account
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		var err error
		account, err = scanAccount(r.db.QueryRowContext(ctx, `
			UPDATE admin_accounts SET is_active = FALSE, updated_at = $2
			WHERE username = $1
			RETURNING `+accountColumns, username, time.Now().UTC()))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, storageError("deactivate account", err)
	}
	return account, nil
}

// sessions

func (r *Repository) CreateSession(ctx context.Context, session Session) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO admin_sessions (token_hash, account_id, ip_address, user_agent, created_at, expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		`, hashToken(session.Token), session.AccountID, session.IPAddress, session.UserAgent,
			session.CreatedAt.UTC(), session.ExpiresAt.UTC())
		return err
	})
	if err != nil {
		return storageError("insert session", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, token string) (Session, error) {
	session := Session{Token: token}
	err := r.policy.Read(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT account_id, ip_address, user_agent, created_at, expires_at, is_active
			FROM admin_sessions
			WHERE token_hash = $1
		`, hashToken(token)).Scan(&session.AccountID, &session.IPAddress, &session.UserAgent,
			&session.CreatedAt, &session.ExpiresAt, &session.Active)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, storageError("query session", err)
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, nil
}

func (r *Repository) ExtendSession(ctx context.Context, token string, expiresAt time.Time) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			UPDATE admin_sessions SET expires_at = $2
			WHERE token_hash = $1 AND is_active = TRUE
		`, hashToken(token), expiresAt.UTC())
		return err
	})
	if err != nil {
		return storageError("extend session", err)
	}
	return nil
}

func (r *Repository) DeactivateSession(ctx context.Context, token string) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			UPDATE admin_sessions SET is_active = FALSE WHERE token_hash = $1
		`, hashToken(token))
		return err
	})
	if err != nil {
		return storageError("deactivate session", err)
	}
	return nil
}

func (r *Repository) DeactivateAccountSessions(ctx context.Context, accountID string) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			UPDATE admin_sessions SET is_active = FALSE WHERE account_id = $1 AND is_active = TRUE
		`, accountID)
		return err
	})
	if err != nil {
		return storageError("deactivate account sessions", err)
	}
	return nil
}

// rate limits

func (r *Repository) GetRateLimit(ctx context.Context, ip string) (RateLimitEntry, error) {
	entry := RateLimitEntry{IPAddress: ip}
	var lockoutUntil sql.NullTime
	err := r.policy.Read(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			SELECT failed_attempts, lockout_until
			FROM login_rate_limits
			WHERE ip_address = $1
		`, ip).Scan(&entry.FailedAttempts, &lockoutUntil)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, nil
		}
		return RateLimitEntry{}, storageError("query rate limit", err)
	}
	if lockoutUntil.Valid {
		value := lockoutUntil.Time.UTC()
		entry.LockoutUntil = &value
	}
	return entry, nil
}

// IncrementFailure bumps the counter in one statement. A lockout that has
// already elapsed restarts the count at 1.
func (r *Repository) IncrementFailure(ctx context.Context, ip string, maxAttempts int, lockout time.Duration, now time.Time) (RateLimitEntry, error) {
	entry := RateLimitEntry{IPAddress: ip}
	var lockoutUntil sql.NullTime
	now = now.UTC()

	err := r.policy.Write(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `
			INSERT INTO login_rate_limits (ip_address, failed_attempts, lockout_until, updated_at)
			VALUES (
				$1,
				1,
				CASE WHEN 1 >= $2::integer THEN $4::timestamptz + $3::interval ELSE NULL END,
				$4::timestamptz
			)
			ON CONFLICT (ip_address) DO UPDATE SET
				failed_attempts = CASE
					WHEN login_rate_limits.lockout_until IS NOT NULL AND login_rate_limits.lockout_until <= $4 THEN 1
					ELSE login_rate_limits.failed_attempts + 1
				END,
				lockout_until = CASE
					WHEN (CASE
						WHEN login_rate_limits.lockout_until IS NOT NULL AND login_rate_limits.lockout_until <= $4 THEN 1
						ELSE login_rate_limits.failed_attempts + 1
					END) >= $2 THEN $4::timestamptz + $3::interval
					ELSE NULL
				END,
				updated_at = $4
			RETURNING failed_attempts, lockout_until
		`, ip, maxAttempts, fmt.Sprintf("%d milliseconds", lockout.Milliseconds()), now).
			Scan(&entry.FailedAttempts, &lockoutUntil)
	})
	if err != nil {
		return RateLimitEntry{}, storageError("increment rate limit", err)
	}
	if lockoutUntil.Valid {
		value := lockoutUntil.Time.UTC()
		entry.LockoutUntil = &value
	}
	return entry, nil
}

func (r *Repository) ClearRateLimit(ctx context.Context, ip string) error {
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM login_rate_limits WHERE ip_address = $1`, ip)
		return err
	})
	if err != nil {
		return storageError("clear rate limit", err)
	}
	return nil
}

// maintenance

func (r *Repository) CleanupStale(ctx context.Context, sessionRetention, rateLimitRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := time.Now().UTC()

	deletedSessions, err := r.deleteBatch(ctx, "stale sessions", `
		WITH stale AS (
			SELECT token_hash
			FROM admin_sessions
			WHERE expires_at < $1 OR (is_active = FALSE AND created_at < $1)
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM admin_sessions t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, now.Add(-sessionRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedRateLimits, err := r.deleteBatch(ctx, "stale rate limits", `
		WITH stale AS (
			SELECT ip_address
			FROM login_rate_limits
			WHERE updated_at < $1
			  AND (lockout_until IS NULL OR lockout_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM login_rate_limits t
		USING stale
		WHERE t.ip_address = stale.ip_address
	`, now.Add(-rateLimitRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{DeletedSessions: deletedSessions, DeletedRateLimits: deletedRateLimits}, nil
}

func (r *Repository) deleteBatch(ctx context.Context, label, query string, cutoff time.Time, batchSize int) (int64, error) {
	var affected int64
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storageError("delete "+label, err)
	}
	return affected, nil
}
