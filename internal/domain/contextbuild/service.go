package contextbuild

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/repository"
)

const basePreamble = "You are collaborating inside a branchable, append-only reasoning workspace. " +
	"History below is the canonical record of this branch; treat it as authoritative."

const canvasToolsSegment = "A shared canvas document is available through canvas tools. " +
	"Treat its current content as the working document unless the user says otherwise."

const hiddenDraftSegment = "Some user messages are hidden canvas updates rather than conversational " +
	"turns; they are authoritative edits to the canvas and must be treated as such, not as prose to reply to."

// Service builds the provider-agnostic context for a streaming turn.
type Service struct {
	refs   repository.RefRepository
	ledger repository.LedgerRepository
	logger *slog.Logger
}

// NewService constructs a context builder.
func NewService(refRepo repository.RefRepository, ledger repository.LedgerRepository, logger *slog.Logger) *Service {
	return &Service{refs: refRepo, ledger: ledger, logger: logger}
}

// Build assembles the system preamble and ordered message list for refID,
// scoped to the ref's current provider/model binding.
func (s *Service) Build(ctx context.Context, tenantID, refID string, opts Options) (*Result, error) {
	if refID == "" {
		return nil, ErrInvalidInput
	}
	ref, err := s.refs.Get(ctx, tenantID, refID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrRefNotFound
		}
		return nil, fmt.Errorf("contextbuild: load ref: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultNodeLimit
	}
	history, err := s.ledger.History(ctx, tenantID, refID, repository.HistoryOptions{Limit: limit, IncludeRawResponse: true})
	if err != nil {
		return nil, fmt.Errorf("contextbuild: load history: %w", err)
	}

	bindings, err := s.resolveBindings(ctx, tenantID, history)
	if err != nil {
		return nil, fmt.Errorf("contextbuild: resolve bindings: %w", err)
	}
	mask := canonicalFallbackMask(history, bindings, ref.Provider, ref.Model)
	preamble := buildPreamble(opts)

	mergeRole := refs.RoleAssistant
	if opts.MergeRole == string(refs.RoleUser) {
		mergeRole = refs.RoleUser
	}

	budget := tokenBudget{unbounded: opts.TokenLimit <= 0}
	if !budget.unbounded {
		budget.remaining = opts.TokenLimit - estimateTokens(preamble)
	}

	messages := make([]llm.Message, 0, len(history))
	for i, entry := range history {
		node := entry.Node
		switch node.Kind {
		case refs.KindState:
			continue
		case refs.KindMerge:
			summary := fmt.Sprintf("Merge summary from %s: %s", node.MergeFrom, node.MergeSummary)
			if !budget.spend(estimateTokens(summary)) {
				continue
			}
			messages = append(messages, llm.Message{Role: mergeRole, Content: summary})
			if node.MergedAssistantContent != nil && *node.MergedAssistantContent != "" {
				if budget.spend(estimateTokens(*node.MergedAssistantContent)) {
					messages = append(messages, llm.Message{Role: refs.RoleAssistant, Content: *node.MergedAssistantContent})
				}
			}
		case refs.KindMessage:
			if node.UIHidden {
				continue
			}
			if node.Role != refs.RoleUser && node.Role != refs.RoleAssistant {
				continue
			}
			msg, cost := renderMessage(node, mask[i], ref.Provider)
			if !budget.spend(cost) {
				continue
			}
			messages = append(messages, msg)
		}
	}

	return &Result{SystemPreamble: preamble, Messages: messages}, nil
}

// binding is a (provider, model) pair resolved for one created_on_ref id.
type binding struct {
	provider string
	model    string
}

// resolveBindings looks up the current (provider, model) binding of every
// distinct created_on_ref appearing in history, so the mask can compare a
// node's origin ref against the ref being read without one lookup per node.
func (s *Service) resolveBindings(ctx context.Context, tenantID string, history []refs.HistoryEntry) (map[string]binding, error) {
	out := make(map[string]binding)
	for _, entry := range history {
		refID := entry.Node.CreatedOnRefID
		if refID == "" {
			continue
		}
		if _, ok := out[refID]; ok {
			continue
		}
		r, err := s.refs.Get(ctx, tenantID, refID)
		if err != nil {
			if err == repository.ErrNotFound {
				out[refID] = binding{}
				continue
			}
			return nil, err
		}
		out[refID] = binding{provider: r.Provider, model: r.Model}
	}
	return out, nil
}

// canonicalFallbackMask flags, per history index, whether the node must be
// fed in canonical text only. Walking newest-to-oldest, the mask flips true
// at the first assistant node whose created_on_ref is bound to a different
// (provider, model) than the ref's current binding, and stays true for every
// older node.
func canonicalFallbackMask(history []refs.HistoryEntry, bindings map[string]binding, currentProvider, currentModel string) []bool {
	mask := make([]bool, len(history))
	flipped := false
	for i := len(history) - 1; i >= 0; i-- {
		if flipped {
			mask[i] = true
			continue
		}
		entry := history[i]
		if entry.Node.Kind == refs.KindMessage && entry.Node.Role == refs.RoleAssistant {
			b := bindings[entry.Node.CreatedOnRefID]
			if b.provider != currentProvider || b.model != currentModel {
				flipped = true
				mask[i] = true
				continue
			}
		}
		mask[i] = false
	}
	return mask
}

func buildPreamble(opts Options) string {
	var b strings.Builder
	b.WriteString(basePreamble)
	if opts.CanvasToolsAvailable {
		b.WriteString(" ")
		b.WriteString(canvasToolsSegment)
	}
	b.WriteString(" ")
	b.WriteString(hiddenDraftSegment)
	return b.String()
}

// renderMessage produces the llm.Message for a message node plus its
// estimated token cost, honoring the canonical-fallback mask.
func renderMessage(node refs.Node, canonicalOnly bool, provider string) (llm.Message, int) {
	if canonicalOnly || len(node.ContentBlocks) == 0 {
		return llm.Message{Role: node.Role, Content: node.Content}, estimateTokens(node.Content)
	}
	blocks := redactForProvider(provider, node.ContentBlocks)
	return llm.Message{Role: node.Role, Blocks: blocks}, estimateTokens(flattenBlockText(blocks))
}

func flattenBlockText(blocks []refs.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(blk.Text)
	}
	return b.String()
}

// estimateTokens estimates cost as ceil(chars/4).
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// tokenBudget tracks the remaining token allowance during context assembly.
// A node that would exceed it is dropped, never reordered.
type tokenBudget struct {
	unbounded bool
	remaining int
}

// spend reports whether cost fits in the remaining budget, deducting it if so.
func (b *tokenBudget) spend(cost int) bool {
	if b.unbounded {
		return true
	}
	if cost > b.remaining {
		return false
	}
	b.remaining -= cost
	return true
}
