package stream

import (
	"time"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
)

// TurnState names the coordinator's position in the turn state machine.
type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateAcquired         TurnState = "acquired"
	StateUserAppended     TurnState = "user_appended"
	StateStreaming        TurnState = "streaming"
	StateAssistantAppended TurnState = "assistant_appended"
	StateReleased         TurnState = "released"
	StateRejected         TurnState = "rejected"
	StateAborted          TurnState = "aborted"
	StateFailed           TurnState = "failed"
)

// StartTurnRequest describes one user turn to drive through the coordinator.
type StartTurnRequest struct {
	ProjectID        string
	RefID            string
	UserID           string
	SessionID        string
	UserContent      string
	LeaseTTL         time.Duration
	LeaseWaitBound   time.Duration
	ContextLimit     int
	ContextTokenLimit int
	CanvasToolsAvailable bool
	Thinking         bool
	WebSearchEnabled bool
}

// EventType discriminates a TurnEvent.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventFailed EventType = "failed"
)

// TurnEvent is one element of the channel StartTurn returns: either a
// forwarded provider chunk, the final result, or a terminal failure.
type TurnEvent struct {
	Type   EventType
	Chunk  llm.Chunk
	Result *TurnResult
	Err    error
}

// TurnResult summarizes what a completed (or terminated) turn wrote.
type TurnResult struct {
	State            TurnState
	UserNodeID       string
	UserOrdinal      int64
	AssistantNodeID  string
	AssistantOrdinal int64
	Interrupted      bool
	ResponseID       *string
}

// accumulator collects a provider stream's output as it arrives.
type accumulator struct {
	text       []byte
	blocks     []refs.ContentBlock
	raw        []byte
	responseID *string
}

func (a *accumulator) apply(c llm.Chunk) {
	switch c.Type {
	case llm.ChunkText:
		a.text = append(a.text, c.Content...)
		a.blocks = append(a.blocks, refs.ContentBlock{Type: refs.BlockText, Text: c.Content})
	case llm.ChunkThinking:
		a.blocks = append(a.blocks, refs.ContentBlock{Type: refs.BlockThinking, Text: c.Content})
	case llm.ChunkThinkingSignature:
		a.blocks = append(a.blocks, refs.ContentBlock{Type: refs.BlockThinkingSignature, Signature: c.Content})
	case llm.ChunkMeta:
		if c.ResponseID != "" {
			id := c.ResponseID
			a.responseID = &id
		}
	case llm.ChunkRawResponse:
		a.raw = append(a.raw, c.RawPayload...)
	}
}
