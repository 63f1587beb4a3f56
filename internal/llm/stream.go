package llm

import (
	"context"

	"github.com/loomhq/loom/internal/domain/refs"
)

// Message is one entry in the ordered sequence the context builder hands to
// a provider adapter. Content is either plain text or an ordered list of
// typed blocks; exactly one of Content/Blocks is populated.
type Message struct {
	Role    refs.Role
	Content string
	Blocks  []refs.ContentBlock
}

// CompletionRequest is the provider-agnostic input to a streaming turn.
type CompletionRequest struct {
	SystemPreamble     string
	Messages           []Message
	Thinking           bool
	WebSearchEnabled   bool
	PreviousResponseID *string
}

// ChunkType discriminates the async sequence a StreamingCompletion emits.
type ChunkType string

const (
	ChunkText              ChunkType = "text"
	ChunkThinking          ChunkType = "thinking"
	ChunkThinkingSignature ChunkType = "thinking_signature"
	ChunkMeta              ChunkType = "meta"
	ChunkRawResponse       ChunkType = "raw_response"
	// ChunkError terminates the sequence exceptionally: the adapter emits it
	// as the final element before closing the channel when the provider
	// fails mid-stream. Partial output preceding it is still valid and is
	// persisted by the consumer.
	ChunkError ChunkType = "error"
)

// Chunk is one element of a streaming completion's output sequence.
// ResponseID is populated on Meta chunks once the provider assigns one;
// RawPayload is populated on RawResponse chunks with the opaque captured
// payload (consumers must not reorder or reshape it). Err is populated only
// on Error chunks.
type Chunk struct {
	Type       ChunkType
	Content    string
	ResponseID string
	RawPayload []byte
	Err        error
}

// StreamingCompletion is the single abstract interface every provider
// adapter implements; the core package tree never imports a provider SDK
// directly.
type StreamingCompletion interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// Registry resolves a StreamingCompletion implementation by the provider
// string a ref is bound to, letting the stream coordinator stay ignorant
// of which concrete adapter package backs any given turn.
type Registry struct {
	adapters map[string]StreamingCompletion
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]StreamingCompletion)}
}

// Register binds a provider name to its adapter.
func (r *Registry) Register(provider string, adapter StreamingCompletion) {
	r.adapters[provider] = adapter
}

// Resolve returns the adapter bound to provider, or false if none is registered.
func (r *Registry) Resolve(provider string) (StreamingCompletion, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}
