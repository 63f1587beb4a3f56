package contextbuild

import "github.com/loomhq/loom/internal/llm"

// Options configures a single Build call.
type Options struct {
	// Limit caps how many of the ref's most recent nodes are considered.
	// Zero means the default of 40.
	Limit int
	// TokenLimit bounds the total estimated token cost of the preamble plus
	// emitted messages. Zero means unbounded.
	TokenLimit int
	// CanvasToolsAvailable conditions the system preamble.
	CanvasToolsAvailable bool
	// MergeRole is the role the synthesized merge-summary message is
	// attributed to ("user" or "assistant"); defaults to "assistant".
	MergeRole string
}

const defaultNodeLimit = 40

// Result is the provider-agnostic context a streaming turn is built from.
type Result struct {
	SystemPreamble string
	Messages       []llm.Message
}
