package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/repository"
)

// LeaseStore implements repository.LeaseRepository: the durable half of the
// ref-lock manager. The in-process mutex map in internal/domain/lease
// guards against same-process races; this table is the source of truth
// across process restarts and lets other replicas observe the holder.
type LeaseStore struct {
	db *DB
}

// NewLeaseStore constructs a LeaseStore over an open database.
func NewLeaseStore(db *DB) *LeaseStore {
	return &LeaseStore{db: db}
}

// Acquire inserts a new lease row, or refreshes it in place if the existing
// holder has expired or is the same (user, session) pair re-acquiring. A
// live lease held by a different user or a different session of the same
// user is reported as repository.ErrConflict.
func (s *LeaseStore) Acquire(ctx context.Context, tenantID string, l *repository.Lease) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin acquire lease: %w", err)
	}
	defer tx.Rollback()

	var existingUser, existingSession string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, session_id, expires_at FROM ref_leases
		WHERE tenant_id = ? AND project_id = ? AND ref_id = ?`,
		tenantID, l.ProjectID, l.RefID).Scan(&existingUser, &existingSession, &expiresAt)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ref_leases (tenant_id, project_id, ref_id, user_id, session_id, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tenantID, l.ProjectID, l.RefID, l.UserID, l.SessionID, l.ExpiresAt); err != nil {
			if isForeignKeyViolation(err) {
				return repository.ErrForeignKeyViolation
			}
			return fmt.Errorf("sqlite: insert lease: %w", err)
		}
	case err != nil:
		return fmt.Errorf("sqlite: read existing lease: %w", err)
	default:
		stillHeld := expiresAt.After(time.Now())
		sameHolder := existingUser == l.UserID && existingSession == l.SessionID
		if stillHeld && !sameHolder {
			return repository.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ref_leases SET user_id = ?, session_id = ?, expires_at = ?
			WHERE tenant_id = ? AND project_id = ? AND ref_id = ?`,
			l.UserID, l.SessionID, l.ExpiresAt, tenantID, l.ProjectID, l.RefID); err != nil {
			return fmt.Errorf("sqlite: refresh lease on acquire: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit acquire lease: %w", err)
	}
	return nil
}

// Refresh extends the expiry of the lease held by (projectID, refID),
// scoped to the session that holds it.
func (s *LeaseStore) Refresh(ctx context.Context, tenantID, projectID, refID, userID, sessionID string, newExpiry time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ref_leases SET expires_at = ?
		WHERE tenant_id = ? AND project_id = ? AND ref_id = ? AND user_id = ? AND session_id = ?`,
		newExpiry, tenantID, projectID, refID, userID, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: refresh lease: %w", err)
	}
	return requireRowsAffected(res, func() error { return repository.ErrNotFound })
}

// Release deletes the lease row held by (projectID, refID) if sessionID
// matches its current holder, or unconditionally when force is true.
// Releasing a lease the caller does not hold is a no-op, never an error.
func (s *LeaseStore) Release(ctx context.Context, tenantID, projectID, refID, sessionID string, force bool) error {
	var err error
	if force {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM ref_leases
			WHERE tenant_id = ? AND project_id = ? AND ref_id = ?`,
			tenantID, projectID, refID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM ref_leases
			WHERE tenant_id = ? AND project_id = ? AND ref_id = ? AND session_id = ?`,
			tenantID, projectID, refID, sessionID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: release lease: %w", err)
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, tenantID, projectID, refID string) (*repository.Lease, error) {
	var l repository.Lease
	l.ProjectID = projectID
	l.RefID = refID
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, expires_at FROM ref_leases
		WHERE tenant_id = ? AND project_id = ? AND ref_id = ?`,
		tenantID, projectID, refID).Scan(&l.UserID, &l.SessionID, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan lease: %w", err)
	}
	return &l, nil
}

func (s *LeaseStore) List(ctx context.Context, tenantID, projectID string) ([]repository.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref_id, user_id, session_id, expires_at FROM ref_leases
		WHERE tenant_id = ? AND project_id = ?`, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list leases: %w", err)
	}
	defer rows.Close()

	var out []repository.Lease
	for rows.Next() {
		l := repository.Lease{ProjectID: projectID}
		if err := rows.Scan(&l.RefID, &l.UserID, &l.SessionID, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan lease row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate leases: %w", err)
	}
	return out, nil
}
