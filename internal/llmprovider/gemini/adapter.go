// Package gemini adapts google.golang.org/genai to the core
// llm.StreamingCompletion interface.
package gemini

import (
	"context"
	"log/slog"

	"google.golang.org/genai"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
)

// Adapter implements llm.StreamingCompletion against the Gemini API.
type Adapter struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New constructs an Adapter bound to model (e.g. "gemini-1.5-pro").
func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Adapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, model: model, logger: logger}, nil
}

// Stream implements llm.StreamingCompletion via genai's streaming generation
// call. Thinking content (if the model emits it) is forwarded as thinking
// chunks, text as text chunks; history redaction happens in the context
// builder, so this adapter emits everything the model actually produced.
func (a *Adapter) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var systemInstruction *genai.Content
	if req.SystemPreamble != "" {
		systemInstruction = genai.Text(req.SystemPreamble)[0]
	}
	config := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}

	contents := toContents(req)

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		iter := a.client.Models.GenerateContentStream(ctx, a.model, contents, config)
		for resp, err := range iter {
			if err != nil {
				a.logger.Warn("gemini: stream error", "error", err)
				select {
				case out <- llm.Chunk{Type: llm.ChunkError, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				chunkType := llm.ChunkText
				if part.Thought {
					chunkType = llm.ChunkThinking
				}
				select {
				case out <- llm.Chunk{Type: chunkType, Content: part.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toContents(req llm.CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == refs.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: resolveContent(m)}},
		})
	}
	return contents
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
