// Package openaichat adapts github.com/sashabaranov/go-openai's streaming
// chat-completions API to the core llm.StreamingCompletion interface.
package openaichat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
)

// Adapter implements llm.StreamingCompletion against a plain
// chat-completions model; it never carries a response id and never stores
// a raw payload beyond the accumulated text.
type Adapter struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// New constructs an Adapter. apiKey is the caller's OpenAI key; model names
// the chat-completions model to drive (e.g. "gpt-4o-mini").
func New(apiKey, model string, logger *slog.Logger) *Adapter {
	return &Adapter{client: openai.NewClient(apiKey), model: model, logger: logger}
}

// Stream implements llm.StreamingCompletion.
func (a *Adapter) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	messages := toChatMessages(req)

	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openaichat: start stream: %w", err)
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				a.logger.Warn("openaichat: stream recv error", "error", err)
				select {
				case out <- llm.Chunk{Type: llm.ChunkError, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				select {
				case out <- llm.Chunk{Type: llm.ChunkText, Content: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toChatMessages(req llm.CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPreamble != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.SystemPreamble,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(m.Role),
			Content: resolveContent(m),
		})
	}
	return messages
}

func toOpenAIRole(role refs.Role) string {
	switch role {
	case refs.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case refs.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
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
