package append

import (
	"context"
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

// Service handles message-turn appends.
type Service struct {
	ledger   repository.LedgerRepository
	activity repository.ActivityRepository
	locks    *lease.Manager
	lockWait time.Duration
	logger   *slog.Logger
}

// NewService creates a new append service.
func NewService(
	ledger repository.LedgerRepository,
	activity repository.ActivityRepository,
	locks *lease.Manager,
	lockWait time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{ledger: ledger, activity: activity, locks: locks, lockWait: lockWait, logger: logger}
}

// Request describes a single message-node append.
type Request struct {
	ProjectID     string
	RefID         string
	NodeID        string
	Role          refs.Role
	Content       string
	ContentBlocks []refs.ContentBlock
	RawResponse   []byte
	ResponseID    *string
	Interrupted   bool
	UIHidden      bool
	CreatedBy     string
	AttachDraft   bool
}

// Result reports what Append actually wrote.
type Result struct {
	CommitID      string
	NodeID        string
	Ordinal       int64
	ArtefactAdded bool
	ArtefactID    string
	ArtefactHash  string
}

// Append runs the append algorithm: under the ref's local mutex, allocate the
// next ordinal, insert the commit and message node, and optionally promote
// the caller's draft.
func (s *Service) Append(ctx context.Context, tenantID string, req Request) (*Result, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.RefID) == "" {
		return nil, ErrInvalidInput
	}
	if req.Role == "" {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return nil, ErrInvalidInput
	}

	node := refs.Node{
		ID:            req.NodeID,
		Kind:          refs.KindMessage,
		Role:          req.Role,
		Content:       req.Content,
		ContentBlocks: req.ContentBlocks,
		RawResponse:   req.RawResponse,
		ResponseID:    req.ResponseID,
		Interrupted:   req.Interrupted,
		UIHidden:      req.UIHidden,
		CreatedBy:     req.CreatedBy,
	}

	var written *repository.AppendNodeResult
	lockErr := s.locks.WithLock(ctx, req.ProjectID, req.RefID, s.lockWait, func() error {
		var err error
		written, err = s.ledger.AppendNode(ctx, tenantID, repository.AppendNodeInput{
			ProjectID:   req.ProjectID,
			RefID:       req.RefID,
			Node:        node,
			AttachDraft: req.AttachDraft,
			DraftUserID: req.CreatedBy,
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
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		RefID:     req.RefID,
		Type:      repository.ActivityNodeAppended,
		UserID:    req.CreatedBy,
		Detail:    fmt.Sprintf("ordinal=%d role=%s", written.Ordinal, req.Role),
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("logging append activity", "error", err)
	}

	return &Result{
		CommitID:      written.CommitID,
		NodeID:        written.NodeID,
		Ordinal:       written.Ordinal,
		ArtefactAdded: written.ArtefactAdded,
		ArtefactID:    written.ArtefactID,
		ArtefactHash:  written.ArtefactHash,
	}, nil
}
