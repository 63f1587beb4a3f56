package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomhq/loom/internal/repository"
)

// UserPrefsStore implements repository.UserPrefsRepository.
type UserPrefsStore struct {
	db *DB
}

// NewUserPrefsStore constructs a UserPrefsStore over an open database.
func NewUserPrefsStore(db *DB) *UserPrefsStore {
	return &UserPrefsStore{db: db}
}

func (s *UserPrefsStore) SetCurrentRef(ctx context.Context, tenantID, userID, projectID, refID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_user_prefs (tenant_id, user_id, project_id, current_ref_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, project_id)
		DO UPDATE SET current_ref_id = excluded.current_ref_id, updated_at = CURRENT_TIMESTAMP`,
		tenantID, userID, projectID, refID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: set current ref: %w", err)
	}
	return nil
}

func (s *UserPrefsStore) GetCurrentRef(ctx context.Context, tenantID, userID, projectID string) (string, error) {
	var refID string
	err := s.db.QueryRowContext(ctx, `
		SELECT current_ref_id FROM project_user_prefs
		WHERE tenant_id = ? AND user_id = ? AND project_id = ?`,
		tenantID, userID, projectID).Scan(&refID)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get current ref: %w", err)
	}
	return refID, nil
}
