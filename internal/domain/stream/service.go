package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appendsvc "github.com/loomhq/loom/internal/domain/append"
	"github.com/loomhq/loom/internal/domain/contextbuild"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/repository"
)

// defaultTokenLimits gives the token budget the context builder is run with
// when a caller does not override it, keyed by the ref's bound provider.
var defaultTokenLimits = map[llm.Provider]int{
	llm.ProviderOpenAIChat:      8_000,
	llm.ProviderOpenAIResponses: 32_000,
	llm.ProviderGemini:          32_000,
}

const defaultLeaseTTL = 120 * time.Second
const minLeaseTTL = 10 * time.Second
const defaultLeaseWaitBound = 3 * time.Second

// Defaults carries the per-deployment knobs a StartTurnRequest can override
// per call: lease TTL / wait bound, context sizing, and the role merge
// summaries are attributed to.
type Defaults struct {
	LeaseTTL       time.Duration
	LeaseWaitBound time.Duration
	ContextLimit   int
	TokenLimit     int
	MergeRole      string
}

// Service drives the stream coordinator state machine.
type Service struct {
	refs      repository.RefRepository
	appends   *appendsvc.Service
	context   *contextbuild.Service
	leases    *lease.Service
	providers *llm.Registry
	defaults  Defaults
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewService constructs a stream coordinator.
func NewService(
	refRepo repository.RefRepository,
	appends *appendsvc.Service,
	contextBuilder *contextbuild.Service,
	leases *lease.Service,
	providers *llm.Registry,
	defaults Defaults,
	logger *slog.Logger,
) *Service {
	if defaults.LeaseTTL <= 0 {
		defaults.LeaseTTL = defaultLeaseTTL
	}
	if defaults.LeaseTTL < minLeaseTTL {
		defaults.LeaseTTL = minLeaseTTL
	}
	if defaults.LeaseWaitBound <= 0 {
		defaults.LeaseWaitBound = defaultLeaseWaitBound
	}
	return &Service{
		refs: refRepo, appends: appends, context: contextBuilder,
		leases: leases, providers: providers, defaults: defaults, logger: logger,
		active: make(map[string]context.CancelFunc),
	}
}

func turnKey(projectID, refID string) string {
	return projectID + "/" + refID
}

// StartTurn runs the full turn lifecycle and returns a channel of events: a
// forwarded chunk per provider output, then exactly one terminal Done or
// Failed event before the channel closes.
func (s *Service) StartTurn(ctx context.Context, tenantID string, req StartTurnRequest) (<-chan TurnEvent, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.RefID) == "" ||
		strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, ErrInvalidInput
	}

	ref, err := s.refs.Get(ctx, tenantID, req.RefID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("stream: load ref: %w", err)
	}

	adapter, ok := s.providers.Resolve(ref.Provider)
	if !ok {
		return nil, ErrProviderNotRegistered
	}

	ttl := req.LeaseTTL
	if ttl <= 0 {
		ttl = s.defaults.LeaseTTL
	}
	if ttl < minLeaseTTL {
		ttl = minLeaseTTL
	}
	waitBound := req.LeaseWaitBound
	if waitBound <= 0 {
		waitBound = s.defaults.LeaseWaitBound
	}
	req.LeaseTTL = ttl

	if err := s.acquireWithRetry(ctx, tenantID, req, ttl, waitBound); err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	key := turnKey(req.ProjectID, req.RefID)
	s.mu.Lock()
	s.active[key] = cancel
	s.mu.Unlock()

	events := make(chan TurnEvent, 8)
	go func() {
		defer close(events)
		defer func() {
			s.mu.Lock()
			delete(s.active, key)
			s.mu.Unlock()
			cancel()
		}()
		defer func() {
			// Release must survive an abort: turnCtx is already cancelled on
			// that path, so the lease cleanup runs on a detached context.
			relCtx := context.WithoutCancel(turnCtx)
			if relErr := s.leases.Release(relCtx, tenantID, req.ProjectID, req.RefID, req.SessionID, false); relErr != nil {
				s.logger.Warn("releasing turn lease", "error", relErr)
			}
		}()
		s.runTurn(turnCtx, tenantID, req, *ref, adapter, events)
	}()

	return events, nil
}

// AbortTurn signals the in-flight turn for (project, ref) to stop; the
// partial response is still persisted with interrupted=true.
func (s *Service) AbortTurn(projectID, refID string) error {
	s.mu.Lock()
	cancel, ok := s.active[turnKey(projectID, refID)]
	s.mu.Unlock()
	if !ok {
		return ErrNoActiveTurn
	}
	cancel()
	return nil
}

// acquireWithRetry implements the bounded wait-and-retry on a busy lease.
func (s *Service) acquireWithRetry(ctx context.Context, tenantID string, req StartTurnRequest, ttl, waitBound time.Duration) error {
	deadline := time.Now().Add(waitBound)
	for {
		res, err := s.leases.Acquire(ctx, tenantID, lease.AcquireRequest{
			ProjectID: req.ProjectID, RefID: req.RefID,
			UserID: req.UserID, SessionID: req.SessionID, TTL: ttl,
		})
		if err != nil {
			return fmt.Errorf("stream: acquire lease: %w", err)
		}
		if res.Acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrRefBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (s *Service) runTurn(ctx context.Context, tenantID string, req StartTurnRequest, ref refs.Ref, adapter llm.StreamingCompletion, events chan<- TurnEvent) {
	// The user turn always offers the caller's draft for promotion; the
	// append engine only writes an artefact when the draft's hash actually
	// differs from the ref's latest.
	userNodeID := uuid.NewString()
	userRes, err := s.appends.Append(ctx, tenantID, appendsvc.Request{
		ProjectID: req.ProjectID, RefID: req.RefID, NodeID: userNodeID,
		Role: refs.RoleUser, Content: req.UserContent,
		CreatedBy: req.UserID, AttachDraft: true,
	})
	if err != nil {
		events <- TurnEvent{Type: EventFailed, Err: fmt.Errorf("stream: append user turn: %w", err)}
		return
	}

	tokenLimit := req.ContextTokenLimit
	if tokenLimit <= 0 {
		tokenLimit = s.defaults.TokenLimit
	}
	if tokenLimit <= 0 {
		tokenLimit = defaultTokenLimits[llm.Provider(ref.Provider)]
	}
	contextLimit := req.ContextLimit
	if contextLimit <= 0 {
		contextLimit = s.defaults.ContextLimit
	}
	built, err := s.context.Build(ctx, tenantID, req.RefID, contextbuild.Options{
		Limit: contextLimit, TokenLimit: tokenLimit,
		CanvasToolsAvailable: req.CanvasToolsAvailable, MergeRole: s.defaults.MergeRole,
	})
	if err != nil {
		events <- TurnEvent{Type: EventFailed, Err: fmt.Errorf("stream: build context: %w", err)}
		return
	}

	messages := make([]llm.Message, len(built.Messages))
	copy(messages, built.Messages)

	chunks, err := adapter.Stream(ctx, llm.CompletionRequest{
		SystemPreamble:     built.SystemPreamble,
		Messages:           messages,
		Thinking:           req.Thinking,
		WebSearchEnabled:   req.WebSearchEnabled,
		PreviousResponseID: ref.PreviousResponseID,
	})
	if err != nil {
		events <- TurnEvent{Type: EventFailed, Err: fmt.Errorf("stream: start provider stream: %w", err)}
		return
	}

	acc := &accumulator{}
	interrupted := false
	var providerErr error
	heartbeatInterval := req.LeaseTTL / 3
	lastHeartbeat := time.Now()

drain:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break drain
		case c, ok := <-chunks:
			if !ok {
				break drain
			}
			if c.Type == llm.ChunkError {
				providerErr = c.Err
				interrupted = true
				break drain
			}
			acc.apply(c)
			events <- TurnEvent{Type: EventChunk, Chunk: c}
			if time.Since(lastHeartbeat) > heartbeatInterval {
				if hbErr := s.leases.Refresh(ctx, tenantID, req.ProjectID, req.RefID, req.UserID, req.SessionID, req.LeaseTTL); hbErr != nil {
					s.logger.Warn("lease heartbeat failed", "error", hbErr)
				}
				lastHeartbeat = time.Now()
			}
		}
	}

	// Persistence after the stream ends must not be lost to the abort signal
	// that ended it: the partial response is written on a detached context.
	persistCtx := context.WithoutCancel(ctx)

	heldByOther, err := s.leases.IsHeldByOther(persistCtx, tenantID, req.ProjectID, req.RefID, req.SessionID)
	if err != nil {
		s.logger.Warn("checking lease preemption", "error", err)
	}
	preempted := heldByOther
	if preempted {
		interrupted = true
	}

	assistantNodeID := uuid.NewString()
	assistantRes, err := s.appends.Append(persistCtx, tenantID, appendsvc.Request{
		ProjectID: req.ProjectID, RefID: req.RefID, NodeID: assistantNodeID,
		Role: refs.RoleAssistant, Content: string(acc.text), ContentBlocks: acc.blocks,
		RawResponse: acc.raw, ResponseID: acc.responseID, Interrupted: interrupted,
		CreatedBy: req.UserID, AttachDraft: false,
	})
	if err != nil {
		events <- TurnEvent{Type: EventFailed, Err: fmt.Errorf("stream: append assistant turn: %w", err), Result: &TurnResult{
			State: StateFailed, UserNodeID: userRes.NodeID, UserOrdinal: userRes.Ordinal, Interrupted: true,
		}}
		return
	}

	if !preempted && llm.IsResponsesCapable(ref.Provider) && acc.responseID != nil {
		if err := s.refs.SetProviderBinding(persistCtx, tenantID, req.RefID, ref.Provider, ref.Model, acc.responseID); err != nil {
			s.logger.Warn("updating previous_response_id", "error", err)
		}
	}

	result := &TurnResult{
		State:            StateReleased,
		UserNodeID:       userRes.NodeID,
		UserOrdinal:      userRes.Ordinal,
		AssistantNodeID:  assistantRes.NodeID,
		AssistantOrdinal: assistantRes.Ordinal,
		Interrupted:      interrupted,
		ResponseID:       acc.responseID,
	}
	switch {
	case preempted:
		// A newer session took the lease mid-stream. The partial reply is
		// kept, but the turn terminates as preempted.
		result.State = StateAborted
		events <- TurnEvent{Type: EventFailed, Err: ErrLeaseExpired, Result: result}
	case providerErr != nil:
		result.State = StateFailed
		events <- TurnEvent{Type: EventFailed, Err: fmt.Errorf("stream: provider error: %w", providerErr), Result: result}
	case interrupted:
		result.State = StateAborted
		events <- TurnEvent{Type: EventDone, Result: result}
	default:
		events <- TurnEvent{Type: EventDone, Result: result}
	}
}
