// Package openairesp adapts github.com/openai/openai-go/v3's Responses API
// to the core llm.StreamingCompletion interface. This is the provider family
// capable of carrying a server-side previous_response_id across turns.
package openairesp

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
)

// Adapter implements llm.StreamingCompletion against the Responses API.
type Adapter struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// New constructs an Adapter bound to model (e.g. "gpt-4.1").
func New(apiKey, model string, logger *slog.Logger) *Adapter {
	return &Adapter{client: openai.NewClient(option.WithAPIKey(apiKey)), model: model, logger: logger}
}

// Stream implements llm.StreamingCompletion, emitting text chunks followed
// by a single meta chunk carrying the provider's response id once the
// response completes.
func (a *Adapter) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params := responses.ResponseNewParams{
		Model: a.model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: toInputItems(req)},
	}
	if req.PreviousResponseID != nil && *req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(*req.PreviousResponseID)
	}

	stream := a.client.Responses.NewStreaming(ctx, params)

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				select {
				case out <- llm.Chunk{Type: llm.ChunkText, Content: variant.Delta}:
				case <-ctx.Done():
					return
				}
			case responses.ResponseCompletedEvent:
				select {
				case out <- llm.Chunk{Type: llm.ChunkMeta, ResponseID: variant.Response.ID}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			a.logger.Warn("openairesp: stream error", "error", err)
			select {
			case out <- llm.Chunk{Type: llm.ChunkError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func toInputItems(req llm.CompletionRequest) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(req.Messages)+1)
	if req.SystemPreamble != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(req.SystemPreamble, responses.EasyInputMessageRoleSystem))
	}
	for _, m := range req.Messages {
		items = append(items, responses.ResponseInputItemParamOfMessage(resolveContent(m), toResponsesRole(m.Role)))
	}
	return items
}

func toResponsesRole(role refs.Role) responses.EasyInputMessageRole {
	switch role {
	case refs.RoleAssistant:
		return responses.EasyInputMessageRoleAssistant
	case refs.RoleSystem:
		return responses.EasyInputMessageRoleSystem
	default:
		return responses.EasyInputMessageRoleUser
	}
}

func resolveContent(m llm.Message) string {
	if m.Content != "" || len(m.Blocks) == 0 {
		return m.Content
	}
	var text string
	for _, b := range m.Blocks {
		if b.Type == refs.BlockText {
			text += b.Text
		}
	}
	return text
}
