package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// RefStore implements repository.RefRepository.
type RefStore struct {
	db *DB
}

// NewRefStore constructs a RefStore over an open database.
func NewRefStore(db *DB) *RefStore {
	return &RefStore{db: db}
}

func (s *RefStore) Create(ctx context.Context, tenantID string, r *refs.Ref) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refs (id, tenant_id, project_id, name, tip_commit_id, tip_ordinal,
			provider, model, previous_response_id, is_pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, tenantID, r.ProjectID, r.Name, r.TipCommitID, r.TipOrdinal,
		r.Provider, r.Model, r.PreviousResponseID, r.IsPinned, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: create ref: %w", err)
	}
	return nil
}

func scanRef(row *sql.Row) (*refs.Ref, error) {
	var r refs.Ref
	var tip sql.NullString
	var prevResp sql.NullString
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &tip, &r.TipOrdinal,
		&r.Provider, &r.Model, &prevResp, &r.IsPinned, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan ref: %w", err)
	}
	if tip.Valid {
		r.TipCommitID = &tip.String
	}
	if prevResp.Valid {
		r.PreviousResponseID = &prevResp.String
	}
	return &r, nil
}

func (s *RefStore) Get(ctx context.Context, tenantID, refID string) (*refs.Ref, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, tip_commit_id, tip_ordinal,
			provider, model, previous_response_id, is_pinned, created_at
		FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID)
	return scanRef(row)
}

func (s *RefStore) GetByName(ctx context.Context, tenantID, projectID, name string) (*refs.Ref, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, tip_commit_id, tip_ordinal,
			provider, model, previous_response_id, is_pinned, created_at
		FROM refs WHERE tenant_id = ? AND project_id = ? AND name = ?`,
		tenantID, projectID, name)
	return scanRef(row)
}

func (s *RefStore) List(ctx context.Context, tenantID, projectID string, opts repository.ListRefsOptions) ([]refs.RefSummary, error) {
	query := `
		SELECT r.id, r.name, r.tip_commit_id, r.is_pinned, r.provider, r.model,
			r.tip_ordinal + 1 AS node_count
		FROM refs r
		WHERE r.tenant_id = ? AND r.project_id = ?`
	if opts.IncludePinned {
		query += ` AND r.is_pinned = 1`
	}
	query += ` ORDER BY r.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list refs: %w", err)
	}
	defer rows.Close()

	var out []refs.RefSummary
	for rows.Next() {
		var rs refs.RefSummary
		var tip sql.NullString
		if err := rows.Scan(&rs.ID, &rs.Name, &tip, &rs.IsPinned, &rs.Provider, &rs.Model, &rs.NodeCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan ref row: %w", err)
		}
		if tip.Valid {
			rs.TipCommitID = &tip.String
		}
		rs.IsTrunk = rs.Name == refs.TrunkName
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate refs: %w", err)
	}
	return out, nil
}

func (s *RefStore) Rename(ctx context.Context, tenantID, refID, newName string) error {
	if err := s.guardNotTrunk(ctx, tenantID, refID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE refs SET name = ? WHERE tenant_id = ? AND id = ?`, newName, tenantID, refID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("sqlite: rename ref: %w", err)
	}
	return requireRowsAffected(res, func() error {
		return s.existsOrNotFound(ctx, tenantID, refID)
	})
}

func (s *RefStore) SetPinned(ctx context.Context, tenantID, refID string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refs SET is_pinned = ? WHERE tenant_id = ? AND id = ?`, pinned, tenantID, refID)
	if err != nil {
		return fmt.Errorf("sqlite: set ref pinned: %w", err)
	}
	return requireRowsAffected(res, func() error {
		return s.existsOrNotFound(ctx, tenantID, refID)
	})
}

func (s *RefStore) SetProviderBinding(ctx context.Context, tenantID, refID, provider, model string, previousResponseID *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refs SET provider = ?, model = ?, previous_response_id = ?
		WHERE tenant_id = ? AND id = ?`, provider, model, previousResponseID, tenantID, refID)
	if err != nil {
		return fmt.Errorf("sqlite: set ref provider binding: %w", err)
	}
	return requireRowsAffected(res, func() error {
		return s.existsOrNotFound(ctx, tenantID, refID)
	})
}

// Delete removes a ref. A trunk ref is never deletable; a pinned ref must be
// unpinned first.
func (s *RefStore) Delete(ctx context.Context, tenantID, refID string) error {
	if err := s.guardNotTrunk(ctx, tenantID, refID); err != nil {
		return err
	}
	var pinned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_pinned FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID).Scan(&pinned)
	if err == sql.ErrNoRows {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: check ref pinned: %w", err)
	}
	if pinned {
		return repository.ErrRefPinned
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID)
	if err != nil {
		return fmt.Errorf("sqlite: delete ref: %w", err)
	}
	return requireRowsAffected(res, func() error {
		return repository.ErrNotFound
	})
}

// guardNotTrunk enforces trunk immutability (no rename, no delete): it is
// checked inside the storage layer itself so every caller
// (MCP handlers today, anything else tomorrow) is covered, not just the one
// tool currently wired to Rename.
func (s *RefStore) guardNotTrunk(ctx context.Context, tenantID, refID string) error {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID).Scan(&name)
	if err == sql.ErrNoRows {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: check ref trunk: %w", err)
	}
	if name == refs.TrunkName {
		return repository.ErrTrunkImmutable
	}
	return nil
}

func (s *RefStore) existsOrNotFound(ctx context.Context, tenantID, refID string) error {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID).Scan(&count)
	if err != nil {
		return fmt.Errorf("sqlite: check ref exists: %w", err)
	}
	if count == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// requireRowsAffected calls notFound when res reports zero rows changed,
// distinguishing "nothing matched" from a genuine no-op update.
func requireRowsAffected(res sql.Result, notFound func() error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound()
	}
	return nil
}

func nullStringToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
