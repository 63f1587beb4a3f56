package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// ProjectStore implements repository.ProjectRepository.
type ProjectStore struct {
	db *DB
}

// NewProjectStore constructs a ProjectStore over an open database.
func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

func (s *ProjectStore) Create(ctx context.Context, tenantID string, p *refs.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, description, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, tenantID, p.Name, p.Description, p.OwnerID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create project: %w", err)
	}
	return nil
}

func (s *ProjectStore) Get(ctx context.Context, tenantID, projectID string) (*refs.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, owner_id, created_at
		FROM projects WHERE tenant_id = ? AND id = ?`, tenantID, projectID)
	return scanProject(row)
}

func (s *ProjectStore) GetDefault(ctx context.Context, tenantID string) (*refs.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, owner_id, created_at
		FROM projects WHERE tenant_id = ? ORDER BY created_at ASC LIMIT 1`, tenantID)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*refs.Project, error) {
	var p refs.Project
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan project: %w", err)
	}
	return &p, nil
}

func (s *ProjectStore) List(ctx context.Context, tenantID string) ([]refs.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, owner_id, created_at
		FROM projects WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list projects: %w", err)
	}
	defer rows.Close()

	var out []refs.Project
	for rows.Next() {
		var p refs.Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan project row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate projects: %w", err)
	}
	return out, nil
}

func (s *ProjectStore) AddMember(ctx context.Context, tenantID, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (tenant_id, project_id, user_id)
		VALUES (?, ?, ?)`, tenantID, projectID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: add project member: %w", err)
	}
	return nil
}

func (s *ProjectStore) IsMember(ctx context.Context, tenantID, projectID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM project_members
		WHERE tenant_id = ? AND project_id = ? AND user_id = ?`,
		tenantID, projectID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: check project member: %w", err)
	}
	return count > 0, nil
}
