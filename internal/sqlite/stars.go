package sqlite

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/internal/repository"
)

// StarStore implements repository.StarRepository.
type StarStore struct {
	db *DB
}

// NewStarStore constructs a StarStore over an open database.
func NewStarStore(db *DB) *StarStore {
	return &StarStore{db: db}
}

// Toggle flips the caller's star on a node: starred if it was not, unstarred
// if it was. Reports the new state.
func (s *StarStore) Toggle(ctx context.Context, tenantID, userID, nodeID string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_stars (tenant_id, user_id, node_id) VALUES (?, ?, ?)`,
		tenantID, userID, nodeID)
	if err == nil {
		return true, nil
	}
	if isForeignKeyViolation(err) {
		return false, repository.ErrNotFound
	}
	if !isUniqueViolation(err) {
		return false, fmt.Errorf("sqlite: star node: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM node_stars WHERE tenant_id = ? AND user_id = ? AND node_id = ?`,
		tenantID, userID, nodeID); err != nil {
		return false, fmt.Errorf("sqlite: unstar node: %w", err)
	}
	return false, nil
}

func (s *StarStore) ListStarred(ctx context.Context, tenantID, userID, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ns.node_id FROM node_stars ns
		JOIN nodes n ON n.id = ns.node_id AND n.tenant_id = ns.tenant_id
		WHERE ns.tenant_id = ? AND ns.user_id = ? AND n.project_id = ?
		ORDER BY ns.starred_at ASC`,
		tenantID, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list starred nodes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var nodeID string
		if err := rows.Scan(&nodeID); err != nil {
			return nil, fmt.Errorf("sqlite: scan starred node: %w", err)
		}
		out = append(out, nodeID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate starred nodes: %w", err)
	}
	return out, nil
}
