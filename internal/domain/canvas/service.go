package canvas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// Service handles draft editing and explicit canvas saves.
type Service struct {
	refs      repository.RefRepository
	artefacts repository.ArtefactRepository
	ledger    repository.LedgerRepository
	activity  repository.ActivityRepository
	locks     *lease.Manager
	lockWait  time.Duration
	logger    *slog.Logger
}

// NewService creates a new canvas service.
func NewService(
	refRepo repository.RefRepository,
	artefacts repository.ArtefactRepository,
	ledger repository.LedgerRepository,
	activity repository.ActivityRepository,
	locks *lease.Manager,
	lockWait time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{refs: refRepo, artefacts: artefacts, ledger: ledger, activity: activity, locks: locks, lockWait: lockWait, logger: logger}
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SaveDraftRequest upserts a user's private editor buffer; it is never part
// of history.
type SaveDraftRequest struct {
	ProjectID string
	RefID     string
	UserID    string
	Content   string
}

// SaveDraft implements save_draft.
func (s *Service) SaveDraft(ctx context.Context, tenantID string, req SaveDraftRequest) error {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.RefID) == "" || strings.TrimSpace(req.UserID) == "" {
		return ErrInvalidInput
	}
	draft := &refs.ArtefactDraft{
		ProjectID: req.ProjectID, RefID: req.RefID, UserID: req.UserID,
		Content: req.Content, ContentHash: hashContent(req.Content), UpdatedAt: time.Now(),
	}
	if err := s.artefacts.UpsertDraft(ctx, tenantID, draft); err != nil {
		if errors.Is(err, repository.ErrForeignKeyViolation) {
			return ErrRefNotFound
		}
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// DeleteDraft discards a user's draft, reverting get_canvas to the latest artefact.
func (s *Service) DeleteDraft(ctx context.Context, tenantID, projectID, refID, userID string) error {
	err := s.artefacts.DeleteDraft(ctx, tenantID, projectID, refID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// GetCanvasRequest identifies whose view of which ref's canvas to resolve.
type GetCanvasRequest struct {
	ProjectID string
	RefID     string
	UserID    string
}

// GetCanvas resolves "the current canvas" for a user on a ref: the user's
// draft if present, else the latest immutable artefact, else empty.
func (s *Service) GetCanvas(ctx context.Context, tenantID string, req GetCanvasRequest) (*refs.Canvas, error) {
	draft, err := s.artefacts.GetDraft(ctx, tenantID, req.ProjectID, req.RefID, req.UserID)
	if err == nil {
		return &refs.Canvas{Content: draft.Content, Hash: draft.ContentHash, UpdatedAt: draft.UpdatedAt, Source: refs.CanvasSourceDraft}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("reading draft: %w", err)
	}

	artefact, err := s.artefacts.LatestArtefactForRef(ctx, tenantID, req.RefID)
	if err == nil {
		return &refs.Canvas{Content: artefact.Content, Hash: artefact.ContentHash, UpdatedAt: artefact.CreatedAt, Source: refs.CanvasSourceArtefact}, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return &refs.Canvas{Source: refs.CanvasSourceEmpty}, nil
	}
	return nil, fmt.Errorf("reading latest artefact: %w", err)
}

// UpdateArtefactRequest describes an explicit canvas commit.
type UpdateArtefactRequest struct {
	ProjectID string
	RefID     string
	Content   string
	CreatedBy string
}

// Result reports what an explicit save wrote.
type Result struct {
	CommitID    string
	ArtefactID  string
	StateNodeID string
	Ordinal     int64
	ContentHash string
}

// UpdateArtefact implements the explicit canvas save path: a new artefact
// on a new commit plus a dedicated state node, refused on non-trunk refs.
func (s *Service) UpdateArtefact(ctx context.Context, tenantID string, req UpdateArtefactRequest) (*Result, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.RefID) == "" || strings.TrimSpace(req.CreatedBy) == "" {
		return nil, ErrInvalidInput
	}

	ref, err := s.refs.Get(ctx, tenantID, req.RefID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("loading ref: %w", err)
	}
	if !ref.IsTrunk() {
		return nil, ErrNotTrunk
	}

	var written *repository.UpdateArtefactResult
	lockErr := s.locks.WithLock(ctx, req.ProjectID, req.RefID, s.lockWait, func() error {
		var err error
		written, err = s.ledger.UpdateArtefact(ctx, tenantID, repository.UpdateArtefactInput{
			ProjectID: req.ProjectID, RefID: req.RefID, Content: req.Content,
			Kind: refs.KindCanvasMarkdown, WithStateNode: true, CreatedBy: req.CreatedBy,
		})
		return err
	})
	if lockErr != nil {
		if errors.Is(lockErr, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, lockErr
	}

	if err := s.activity.Log(ctx, tenantID, &repository.ActivityEntry{
		ID: uuid.NewString(), ProjectID: req.ProjectID, RefID: req.RefID,
		Type: repository.ActivityCanvasSaved, UserID: req.CreatedBy,
		Detail: fmt.Sprintf("hash=%s", written.ContentHash), CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("logging canvas save activity", "error", err)
	}

	return &Result{
		CommitID: written.CommitID, ArtefactID: written.ArtefactID,
		StateNodeID: written.StateNodeID, Ordinal: written.Ordinal, ContentHash: written.ContentHash,
	}, nil
}
