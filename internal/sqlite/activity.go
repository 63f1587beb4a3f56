package sqlite

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/internal/repository"
)

// ActivityStore implements repository.ActivityRepository.
type ActivityStore struct {
	db *DB
}

// NewActivityStore constructs an ActivityStore over an open database.
func NewActivityStore(db *DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Log(ctx context.Context, tenantID string, e *repository.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, tenant_id, project_id, ref_id, type, user_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, tenantID, e.ProjectID, e.RefID, string(e.Type), e.UserID, e.Detail, e.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: log activity: %w", err)
	}
	return nil
}

func (s *ActivityStore) List(ctx context.Context, tenantID, projectID string, opts repository.ListActivityOptions) ([]repository.ActivityEntry, error) {
	query := `
		SELECT id, project_id, ref_id, type, user_id, detail, created_at
		FROM activity_log WHERE tenant_id = ? AND project_id = ?`
	args := []any{tenantID, projectID}
	if opts.RefID != "" {
		query += ` AND ref_id = ?`
		args = append(args, opts.RefID)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list activity: %w", err)
	}
	defer rows.Close()

	var out []repository.ActivityEntry
	for rows.Next() {
		var e repository.ActivityEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.RefID, &typ, &e.UserID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan activity row: %w", err)
		}
		e.Type = repository.ActivityType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate activity: %w", err)
	}
	return out, nil
}
