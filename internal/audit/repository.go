package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"admin-session/internal/db"
)

type Repository struct {
	db     *sql.DB
	policy db.Policy
}

func NewRepository(database *sql.DB, policy db.Policy) *Repository {
	return &Repository{db: database, policy: policy}
}

func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		entry.ID = id.String()
	}
	if len(entry.Details) == 0 {
		entry.Details = []byte("{}")
	}

	return r.policy.Write(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO security_audit_logs (id, action, details, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, entry.ID, string(entry.Action), string(entry.Details), entry.IPAddress, entry.UserAgent, entry.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	})
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	before := filter.Before
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Minute)
	}

	entries := make([]Entry, 0, filter.Limit)
	err := r.policy.Read(ctx, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, action, details, ip_address, user_agent, created_at
			FROM security_audit_logs
			WHERE (created_at, id) < ($1::timestamptz, COALESCE(NULLIF($2::text, '')::uuid, '00000000-0000-0000-0000-000000000000'::uuid))
			  AND ($3::text = '' OR action = $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, before.UTC(), filter.BeforeID, string(filter.Action), filter.Limit)
		if err != nil {
			return fmt.Errorf("query audit logs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e Entry
			var action, details string
			if err := rows.Scan(&e.ID, &action, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan audit log: %w", err)
			}
			e.Action = Action(action)
			e.Details = []byte(details)
			entries = append(entries, e)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate audit logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteOlderThan is only called from the maintenance job.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var affected int64
	err := r.policy.Write(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `
			WITH stale AS (
				SELECT id
				FROM security_audit_logs
				WHERE created_at < $1
				ORDER BY created_at ASC
				LIMIT $2
			)
			DELETE FROM security_audit_logs t
			USING stale
			WHERE t.id = stale.id
		`, cutoff.UTC(), batchSize)
		if err != nil {
			return fmt.Errorf("delete old audit logs: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("old audit logs rows affected: %w", err)
		}
		return nil
	})
	return affected, err
}
