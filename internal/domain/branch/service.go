package branch

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
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/repository"
)

// Service handles ref forking and the "ours" structural merge.
type Service struct {
	refs     repository.RefRepository
	ledger   repository.LedgerRepository
	activity repository.ActivityRepository
	locks    *lease.Manager
	lockWait time.Duration
	logger   *slog.Logger
}

// NewService creates a new branch service.
func NewService(
	refRepo repository.RefRepository,
	ledger repository.LedgerRepository,
	activity repository.ActivityRepository,
	locks *lease.Manager,
	lockWait time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{refs: refRepo, ledger: ledger, activity: activity, locks: locks, lockWait: lockWait, logger: logger}
}

// bindProviderModel implements the provider/model inheritance rule for new branches.
func bindProviderModel(source *refs.Ref, reqProvider, reqModel string) (provider, model string) {
	if reqProvider == "" {
		provider = source.Provider
	} else {
		provider = reqProvider
	}
	switch {
	case reqModel != "":
		model = reqModel
	case provider == source.Provider:
		model = source.Model
	default:
		model = llm.DefaultModel(llm.Provider(provider))
	}
	return provider, model
}

// CreateFromRefRequest describes a "fork the current head" request.
type CreateFromRefRequest struct {
	ProjectID   string
	SourceRefID string
	NewRefID    string
	NewName     string
	Provider    string
	Model       string
	CreatedBy   string
}

// CreateFromRef forks refID at its current tip: the new ref starts with the
// exact same commit_order prefix as its source.
func (s *Service) CreateFromRef(ctx context.Context, tenantID string, req CreateFromRefRequest) (*refs.Ref, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.SourceRefID) == "" || strings.TrimSpace(req.NewName) == "" {
		return nil, ErrInvalidInput
	}

	source, err := s.refs.Get(ctx, tenantID, req.SourceRefID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("loading source ref: %w", err)
	}

	provider, model := bindProviderModel(source, req.Provider, req.Model)

	var prevRespID *string
	if llm.IsResponsesCapable(source.Provider) && llm.IsResponsesCapable(provider) {
		prevRespID = source.PreviousResponseID
	}

	newRefID := req.NewRefID
	if newRefID == "" {
		newRefID = uuid.NewString()
	}

	newRef, err := s.ledger.CreateRefFromRef(ctx, tenantID, repository.CreateRefFromRefInput{
		ProjectID: req.ProjectID, SourceRefID: req.SourceRefID,
		NewRefID: newRefID, NewName: req.NewName,
		Provider: provider, Model: model, PreviousResponseID: prevRespID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNameConflict
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("creating ref from ref: %w", err)
	}

	s.logActivity(ctx, tenantID, req.ProjectID, newRef.ID, repository.ActivityRefCreated, req.CreatedBy,
		fmt.Sprintf("from_ref=%s", req.SourceRefID))
	return newRef, nil
}

// CreateFromNodeRequest describes an "edit an earlier message" request.
type CreateFromNodeRequest struct {
	ProjectID   string
	SourceRefID string
	NodeID      string
	NewRefID    string
	NewName     string
	Provider    string
	Model       string
	CreatedBy   string
}

// CreateFromNode forks refID so its history ends at the parent of nodeID:
// the new ref is as if the caller had answered differently at that point.
func (s *Service) CreateFromNode(ctx context.Context, tenantID string, req CreateFromNodeRequest) (*refs.Ref, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.SourceRefID) == "" ||
		strings.TrimSpace(req.NodeID) == "" || strings.TrimSpace(req.NewName) == "" {
		return nil, ErrInvalidInput
	}

	source, err := s.refs.Get(ctx, tenantID, req.SourceRefID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("loading source ref: %w", err)
	}

	if _, err := s.ledger.GetNode(ctx, tenantID, req.NodeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("loading node: %w", err)
	}

	provider, model := bindProviderModel(source, req.Provider, req.Model)

	newRefID := req.NewRefID
	if newRefID == "" {
		newRefID = uuid.NewString()
	}

	result, err := s.ledger.CreateRefFromNode(ctx, tenantID, repository.CreateRefFromNodeInput{
		ProjectID: req.ProjectID, SourceRefID: req.SourceRefID,
		NewRefID: newRefID, NewName: req.NewName, NodeID: req.NodeID,
		Provider: provider, Model: model,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNameConflict
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("creating ref from node: %w", err)
	}

	newRef := result.Ref
	if result.BaseCommit != nil && llm.IsResponsesCapable(source.Provider) && llm.IsResponsesCapable(provider) {
		if baseNode, err := s.ledger.GetNodeByCommit(ctx, tenantID, *result.BaseCommit); err == nil && baseNode.ResponseID != nil {
			if err := s.refs.SetProviderBinding(ctx, tenantID, newRef.ID, provider, model, baseNode.ResponseID); err == nil {
				newRef.PreviousResponseID = baseNode.ResponseID
			} else {
				s.logger.Warn("propagating previous_response_id to new ref", "error", err)
			}
		}
	}

	s.logActivity(ctx, tenantID, req.ProjectID, newRef.ID, repository.ActivityRefCreated, req.CreatedBy,
		fmt.Sprintf("from_node=%s", req.NodeID))
	return &newRef, nil
}

// MergeRequest describes an "ours" structural merge into a target ref.
type MergeRequest struct {
	ProjectID              string
	TargetRefID            string
	SourceRefID            string
	Summary                string
	MergedAssistantNodeID  *string
	MergedAssistantContent *string
	CanvasDiff             *string
	CreatedBy              string
}

// MergeResult reports the commit, merge node, and ordinal the merge produced.
type MergeResult struct {
	CommitID string
	NodeID   string
	Ordinal  int64
}

// MergeOurs records a structural merge: a two-parent commit and a merge
// node carrying a human-authored summary plus the source-exclusive node
// ids since divergence. It never replays source content into the target
// and never creates an artefact row.
func (s *Service) MergeOurs(ctx context.Context, tenantID string, req MergeRequest) (*MergeResult, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.TargetRefID) == "" ||
		strings.TrimSpace(req.SourceRefID) == "" || strings.TrimSpace(req.Summary) == "" {
		return nil, ErrInvalidInput
	}
	if req.TargetRefID == req.SourceRefID {
		return nil, ErrInvalidInput
	}

	sourceRef, err := s.refs.Get(ctx, tenantID, req.SourceRefID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("loading source ref: %w", err)
	}
	if _, err := s.refs.Get(ctx, tenantID, req.TargetRefID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("loading target ref: %w", err)
	}

	sourceExclusive, err := s.ledger.SourceNodesSinceDivergence(ctx, tenantID, req.SourceRefID, req.TargetRefID)
	if err != nil {
		return nil, fmt.Errorf("computing source-exclusive nodes: %w", err)
	}

	sourceCommitID := ""
	if sourceRef.TipCommitID != nil {
		sourceCommitID = *sourceRef.TipCommitID
	}

	mergeNode := refs.Node{
		Kind:                   refs.KindMerge,
		CreatedBy:              req.CreatedBy,
		MergeFromRefID:         &req.SourceRefID,
		MergeFrom:              sourceRef.Name,
		MergeSummary:           req.Summary,
		SourceCommitID:         sourceCommitID,
		SourceNodeIDs:          sourceExclusive,
		MergedAssistantNodeID:  req.MergedAssistantNodeID,
		MergedAssistantContent: req.MergedAssistantContent,
		CanvasDiff:             req.CanvasDiff,
	}

	var written *repository.MergeOursResult
	lockErr := s.locks.WithLock(ctx, req.ProjectID, req.TargetRefID, s.lockWait, func() error {
		var err error
		written, err = s.ledger.MergeOurs(ctx, tenantID, repository.MergeOursInput{
			ProjectID: req.ProjectID, TargetRefID: req.TargetRefID, SourceRefID: req.SourceRefID,
			MergeNode: mergeNode,
		})
		return err
	})
	if lockErr != nil {
		if errors.Is(lockErr, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, lockErr
	}

	s.logActivity(ctx, tenantID, req.ProjectID, req.TargetRefID, repository.ActivityRefMerged, req.CreatedBy,
		fmt.Sprintf("source_ref=%s nodes=%d", req.SourceRefID, len(sourceExclusive)))
	return &MergeResult{CommitID: written.CommitID, NodeID: written.NodeID, Ordinal: written.Ordinal}, nil
}

func (s *Service) logActivity(ctx context.Context, tenantID, projectID, refID string, typ repository.ActivityType, userID, detail string) {
	if err := s.activity.Log(ctx, tenantID, &repository.ActivityEntry{
		ID: uuid.NewString(), ProjectID: projectID, RefID: refID,
		Type: typ, UserID: userID, Detail: detail, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("logging branch activity", "error", err)
	}
}
