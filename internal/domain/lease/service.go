package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/repository"
)

// Service manages the persistent half of the ref-lock: the durable
// (project, ref) → (user, session, expires_at) lease row. The in-process
// Manager mutex guards individual mutating calls; this Service governs who
// is allowed to hold the writer role for an entire streaming turn.
type Service struct {
	repo   repository.LeaseRepository
	logger *slog.Logger
}

// NewService constructs a lease Service.
func NewService(repo repository.LeaseRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// AcquireRequest describes an acquisition attempt.
type AcquireRequest struct {
	ProjectID string
	RefID     string
	UserID    string
	SessionID string
	TTL       time.Duration
}

// AcquireResult reports either a successful acquisition or, when Acquired is
// false, the session currently holding the lease.
type AcquireResult struct {
	Acquired        bool
	ExpiresAt       time.Time
	HolderSessionID string
	HolderExpiresAt time.Time
}

// Acquire takes the (project, ref) writer lease for (user, session), or
// reports the live holder when the lease belongs to someone else.
func (s *Service) Acquire(ctx context.Context, tenantID string, req AcquireRequest) (*AcquireResult, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.RefID) == "" ||
		strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, ErrInvalidInput
	}
	if req.TTL <= 0 {
		return nil, ErrInvalidInput
	}

	expiresAt := time.Now().Add(req.TTL)
	l := &repository.Lease{
		ProjectID: req.ProjectID, RefID: req.RefID,
		UserID: req.UserID, SessionID: req.SessionID, ExpiresAt: expiresAt,
	}
	err := s.repo.Acquire(ctx, tenantID, l)
	if err == nil {
		s.logger.Info("lease acquired", "project_id", req.ProjectID, "ref_id", req.RefID, "user_id", req.UserID)
		return &AcquireResult{Acquired: true, ExpiresAt: expiresAt}, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("acquiring lease: %w", err)
	}

	holder, getErr := s.repo.Get(ctx, tenantID, req.ProjectID, req.RefID)
	if getErr != nil {
		return nil, fmt.Errorf("reading busy lease holder: %w", getErr)
	}
	return &AcquireResult{
		Acquired:        false,
		HolderSessionID: holder.SessionID,
		HolderExpiresAt: holder.ExpiresAt,
	}, nil
}

// Refresh extends a held lease's TTL. It fails with ErrNotHeld if the
// caller's (user, session) does not currently hold the lease.
func (s *Service) Refresh(ctx context.Context, tenantID, projectID, refID, userID, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidInput
	}
	err := s.repo.Refresh(ctx, tenantID, projectID, refID, userID, sessionID, time.Now().Add(ttl))
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("refreshing lease: %w", err)
	}
	return nil
}

// Release removes the lease row if sessionID matches its current holder. Releasing
// a lease the caller does not hold is a no-op without error, unless force
// is set, in which case the lease is removed regardless of holder.
func (s *Service) Release(ctx context.Context, tenantID, projectID, refID, sessionID string, force bool) error {
	if err := s.repo.Release(ctx, tenantID, projectID, refID, sessionID, force); err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

// Holder returns the current lease holder for diagnostic display, or
// repository.ErrNotFound if the ref has no active lease.
func (s *Service) Holder(ctx context.Context, tenantID, projectID, refID string) (*repository.Lease, error) {
	return s.repo.Get(ctx, tenantID, projectID, refID)
}

// List is a diagnostic read of every active lease in a project.
func (s *Service) List(ctx context.Context, tenantID, projectID string) ([]repository.Lease, error) {
	return s.repo.List(ctx, tenantID, projectID)
}

// IsHeldByOther reports whether the lease is currently held by a session
// other than sessionID, used by the stream coordinator's preemption check
// before the assistant-append step.
func (s *Service) IsHeldByOther(ctx context.Context, tenantID, projectID, refID, sessionID string) (bool, error) {
	l, err := s.repo.Get(ctx, tenantID, projectID, refID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking lease holder: %w", err)
	}
	if l.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	return l.SessionID != sessionID, nil
}
