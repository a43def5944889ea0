package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-session/internal/db"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = database.Close()
	})
	return NewRepository(database, db.Policy{Timeout: time.Second, Attempts: 1}), mock
}

var (
	rateLimitColumns = []string{"failed_attempts", "lockout_until"}
	sessionColumns   = []string{"account_id", "ip_address", "user_agent", "created_at", "expires_at", "is_active"}
	accountRow       = []string{"id", "username", "password_hash", "salt", "is_active", "last_login", "created_at", "updated_at"}
)

func TestRepositoryIncrementFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	upsert := regexp.QuoteMeta("ON CONFLICT (ip_address) DO UPDATE")

	t.Run("threshold sets the lockout", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		lockUntil := now.Add(15 * time.Minute)
		mock.ExpectQuery(upsert).
			WithArgs("203.0.113.7", 5, "900000 milliseconds", now).
			WillReturnRows(sqlmock.NewRows(rateLimitColumns).AddRow(5, lockUntil))

		entry, err := repo.IncrementFailure(ctx, "203.0.113.7", 5, 15*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.7", entry.IPAddress)
		assert.Equal(t, 5, entry.FailedAttempts)
		require.NotNil(t, entry.LockoutUntil)
		assert.Equal(t, lockUntil, *entry.LockoutUntil)
		assert.True(t, entry.LockedAt(now))
	})

	t.Run("below threshold has no lockout", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(upsert).
			WithArgs("203.0.113.7", 5, "900000 milliseconds", now).
			WillReturnRows(sqlmock.NewRows(rateLimitColumns).AddRow(2, nil))

		entry, err := repo.IncrementFailure(ctx, "203.0.113.7", 5, 15*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 2, entry.FailedAttempts)
		assert.Nil(t, entry.LockoutUntil)
	})

	t.Run("elapsed lockout restarts in the same statement", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		restart := regexp.QuoteMeta("login_rate_limits.lockout_until <= $4 THEN 1")
		mock.ExpectQuery(restart).
			WithArgs("203.0.113.7", 5, "900000 milliseconds", now).
			WillReturnRows(sqlmock.NewRows(rateLimitColumns).AddRow(1, nil))

		entry, err := repo.IncrementFailure(ctx, "203.0.113.7", 5, 15*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 1, entry.FailedAttempts)
	})

	t.Run("store failure is unavailable, not a denial", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(upsert).WillReturnError(errors.New("connection reset by peer"))

		_, err := repo.IncrementFailure(ctx, "203.0.113.7", 5, 15*time.Minute, now)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.False(t, errors.Is(err, ErrInvalidCredentials))
	})
}

func TestRepositoryGetRateLimit(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("FROM login_rate_limits")

	t.Run("missing row is a zero entry", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WithArgs("198.51.100.4").WillReturnRows(sqlmock.NewRows(rateLimitColumns))

		entry, err := repo.GetRateLimit(ctx, "198.51.100.4")
		require.NoError(t, err)
		assert.Equal(t, RateLimitEntry{IPAddress: "198.51.100.4"}, entry)
	})

	t.Run("store failure", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WithArgs("198.51.100.4").WillReturnError(context.DeadlineExceeded)

		_, err := repo.GetRateLimit(ctx, "198.51.100.4")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})
}

func TestRepositorySessionsStoreTokenHash(t *testing.T) {
	ctx := context.Background()
	token, err := GenerateToken()
	require.NoError(t, err)
	hashed := hashToken(token)
	require.Len(t, hashed, 64)
	require.NotEqual(t, token, hashed)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)

	t.Run("create", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_sessions")).
			WithArgs(hashed, "acct-1", "203.0.113.7", "Mozilla/5.0", created, expires).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.CreateSession(ctx, Session{
			Token:     token,
			AccountID: "acct-1",
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0",
			CreatedAt: created,
			ExpiresAt: expires,
		})
		require.NoError(t, err)
	})

	t.Run("lookup by hash", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM admin_sessions")).
			WithArgs(hashed).
			WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow("acct-1", "203.0.113.7", "Mozilla/5.0", created, expires, true))

		session, err := repo.GetSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, Session{
			Token:     token,
			AccountID: "acct-1",
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0",
			CreatedAt: created,
			ExpiresAt: expires,
			Active:    true,
		}, session)
	})

	t.Run("unknown token is not found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM admin_sessions")).
			WithArgs(hashed).
			WillReturnRows(sqlmock.NewRows(sessionColumns))

		_, err := repo.GetSession(ctx, token)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, errors.Is(err, ErrStorageUnavailable))
	})

	t.Run("revoke and extend", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE admin_sessions SET expires_at")).
			WithArgs(hashed, expires).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE admin_sessions SET is_active = FALSE WHERE token_hash")).
			WithArgs(hashed).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.ExtendSession(ctx, token, expires))
		require.NoError(t, repo.DeactivateSession(ctx, token))
	})
}

func TestRepositoryAccounts(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("FROM admin_accounts WHERE username = $1")

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(query).
			WithArgs("admin").
			WillReturnRows(sqlmock.NewRows(accountRow).AddRow("acct-1", "admin", "digest", "salt", true, nil, created, created))

		account, err := repo.GetAccountByUsername(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", account.ID)
		assert.True(t, account.Active)
		assert.Nil(t, account.LastLogin)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(accountRow))

		_, err := repo.GetAccountByUsername(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WithArgs("admin").WillReturnError(errors.New("dial tcp: connection refused"))

		_, err := repo.GetAccountByUsername(ctx, "admin")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("deactivate unknown account", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE admin_accounts SET is_active = FALSE")).
			WithArgs("ghost", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(accountRow))

		_, err := repo.DeactivateAccount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepositoryCreateFirstAccount(t *testing.T) {
	ctx := context.Background()
	lock := regexp.QuoteMeta("SELECT pg_advisory_xact_lock")
	insert := regexp.QuoteMeta("WHERE NOT EXISTS (SELECT 1 FROM admin_accounts)")
	account := Account{Username: "admin", PasswordHash: "digest", Salt: "salt", Active: true}

	t.Run("inserts into an empty table", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WithArgs(firstAccountLockKey).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insert).
			WithArgs(sqlmock.AnyArg(), "admin", "digest", "salt", true, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		created, err := repo.CreateFirstAccount(ctx, account)
		require.NoError(t, err)
		_, err = uuid.Parse(created.ID)
		assert.NoError(t, err)
		assert.False(t, created.CreatedAt.IsZero())
	})

	t.Run("refused once an account exists", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WithArgs(firstAccountLockKey).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.CreateFirstAccount(ctx, account)
		assert.ErrorIs(t, err, ErrAccountExists)
		assert.False(t, errors.Is(err, ErrStorageUnavailable))
	})

	t.Run("unique violation maps to exists", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WithArgs(firstAccountLockKey).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insert).WillReturnError(&pgconn.PgError{Code: uniqueViolation})
		mock.ExpectRollback()

		_, err := repo.CreateFirstAccount(ctx, account)
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("begin failure", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, err := repo.CreateFirstAccount(ctx, account)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})
}

func TestRepositoryCleanupStale(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM admin_sessions t")).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM login_rate_limits t")).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := repo.CleanupStale(context.Background(), 7*24*time.Hour, 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedSessions: 3, DeletedRateLimits: 2}, result)
}
