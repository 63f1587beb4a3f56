// Package project manages the top-level container that owns a set of refs
// sharing one commit DAG, plus its member enrollment.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// Service handles project operations.
type Service struct {
	repo   repository.ProjectRepository
	refs   repository.RefRepository
	logger *slog.Logger
}

// NewService creates a new project service.
func NewService(repo repository.ProjectRepository, refStore repository.RefRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, refs: refStore, logger: logger}
}

// CreateRequest defines project creation inputs.
type CreateRequest struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
}

// Create creates a new project, enrolls the owner as its first member, and
// creates its trunk ref.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*refs.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, ErrInvalidInput
	}

	id := req.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	p := &refs.Project{
		ID:          id,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now(),
	}

	if err := s.repo.Create(ctx, tenantID, p); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	if err := s.repo.AddMember(ctx, tenantID, p.ID, req.OwnerID); err != nil {
		return nil, fmt.Errorf("enrolling project owner: %w", err)
	}

	trunk := &refs.Ref{
		ID:         uuid.NewString(),
		ProjectID:  p.ID,
		Name:       refs.TrunkName,
		TipOrdinal: -1,
		CreatedAt:  time.Now(),
	}
	if err := s.refs.Create(ctx, tenantID, trunk); err != nil {
		return nil, fmt.Errorf("creating trunk ref: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "owner", req.OwnerID)
	return p, nil
}

// Get fetches a project by ID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*refs.Project, error) {
	p, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// GetDefault returns the tenant's default project, creating one on first use.
func (s *Service) GetDefault(ctx context.Context, tenantID, ownerID string) (*refs.Project, error) {
	p, err := s.repo.GetDefault(ctx, tenantID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("getting default project: %w", err)
	}
	return s.Create(ctx, tenantID, CreateRequest{Name: "Default Project", OwnerID: ownerID})
}

// List returns project summaries for a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]refs.Project, error) {
	return s.repo.List(ctx, tenantID)
}

// RequireMember returns ErrNotMember unless userID belongs to the project.
func (s *Service) RequireMember(ctx context.Context, tenantID, projectID, userID string) error {
	ok, err := s.repo.IsMember(ctx, tenantID, projectID, userID)
	if err != nil {
		return fmt.Errorf("checking project membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}
