package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// ArtefactStore implements repository.ArtefactRepository.
type ArtefactStore struct {
	db *DB
}

// NewArtefactStore constructs an ArtefactStore over an open database.
func NewArtefactStore(db *DB) *ArtefactStore {
	return &ArtefactStore{db: db}
}

func (s *ArtefactStore) InsertArtefact(ctx context.Context, tenantID string, a *refs.Artefact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artefacts (id, tenant_id, project_id, commit_id, kind, content, content_hash, origin_ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, tenantID, a.ProjectID, a.CommitID, string(a.Kind), a.Content, a.ContentHash, a.OriginRefID, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: insert artefact: %w", err)
	}
	return nil
}

func scanArtefact(row *sql.Row) (*refs.Artefact, error) {
	var a refs.Artefact
	var kind string
	err := row.Scan(&a.ID, &a.ProjectID, &a.CommitID, &kind, &a.Content, &a.ContentHash, &a.OriginRefID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan artefact: %w", err)
	}
	a.Kind = refs.ArtefactKind(kind)
	return &a, nil
}

func (s *ArtefactStore) GetArtefactByCommit(ctx context.Context, tenantID, commitID string) (*refs.Artefact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, commit_id, kind, content, content_hash, origin_ref_id, created_at
		FROM artefacts WHERE tenant_id = ? AND commit_id = ?`, tenantID, commitID)
	return scanArtefact(row)
}

// LatestArtefactForRef returns the most recent artefact reachable from a
// ref's current tip commit, walking backward through the commit's own
// ancestry (not node history) until an artefact row is found.
func (s *ArtefactStore) LatestArtefactForRef(ctx context.Context, tenantID, refID string) (*refs.Artefact, error) {
	var tip sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT tip_commit_id FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID).Scan(&tip)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read ref tip for artefact lookup: %w", err)
	}
	if !tip.Valid {
		return nil, repository.ErrNotFound
	}

	cursor := tip.String
	for cursor != "" {
		a, err := s.GetArtefactByCommit(ctx, tenantID, cursor)
		if err == nil {
			return a, nil
		}
		if err != repository.ErrNotFound {
			return nil, err
		}
		var parent sql.NullString
		err = s.db.QueryRowContext(ctx, `SELECT parent1 FROM commits WHERE tenant_id = ? AND id = ?`, tenantID, cursor).Scan(&parent)
		if err != nil {
			return nil, fmt.Errorf("sqlite: walk commit ancestry: %w", err)
		}
		if !parent.Valid {
			break
		}
		cursor = parent.String
	}
	return nil, repository.ErrNotFound
}

func (s *ArtefactStore) UpsertDraft(ctx context.Context, tenantID string, d *refs.ArtefactDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artefact_drafts (tenant_id, project_id, ref_id, user_id, content, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, project_id, ref_id, user_id)
		DO UPDATE SET content = excluded.content, content_hash = excluded.content_hash, updated_at = excluded.updated_at`,
		tenantID, d.ProjectID, d.RefID, d.UserID, d.Content, d.ContentHash, d.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: upsert draft: %w", err)
	}
	return nil
}

func (s *ArtefactStore) GetDraft(ctx context.Context, tenantID, projectID, refID, userID string) (*refs.ArtefactDraft, error) {
	var d refs.ArtefactDraft
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, ref_id, user_id, content, content_hash, updated_at
		FROM artefact_drafts WHERE tenant_id = ? AND project_id = ? AND ref_id = ? AND user_id = ?`,
		tenantID, projectID, refID, userID).
		Scan(&d.ProjectID, &d.RefID, &d.UserID, &d.Content, &d.ContentHash, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan draft: %w", err)
	}
	return &d, nil
}

func (s *ArtefactStore) DeleteDraft(ctx context.Context, tenantID, projectID, refID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM artefact_drafts WHERE tenant_id = ? AND project_id = ? AND ref_id = ? AND user_id = ?`,
		tenantID, projectID, refID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: delete draft: %w", err)
	}
	return requireRowsAffected(res, func() error { return repository.ErrNotFound })
}
