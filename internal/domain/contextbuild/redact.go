package contextbuild

import (
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/llm"
)

// redactForProvider translates a node's raw structured content blocks into
// the blocks a given provider family may see in history. It
// never mutates the node's stored blocks; it returns a filtered copy.
func redactForProvider(provider string, blocks []refs.ContentBlock) []refs.ContentBlock {
	switch llm.Provider(provider) {
	case llm.ProviderOpenAIChat:
		return redactPlainChat(blocks)
	case llm.ProviderGemini:
		return redactGemini(blocks)
	case llm.ProviderOpenAIResponses:
		return redactSignatureAware(blocks)
	default:
		return redactPlainChat(blocks)
	}
}

// redactPlainChat keeps text blocks only.
func redactPlainChat(blocks []refs.ContentBlock) []refs.ContentBlock {
	out := make([]refs.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == refs.BlockText {
			out = append(out, b)
		}
	}
	return out
}

// redactGemini drops thinking text but keeps accompanying signatures and
// final text blocks.
func redactGemini(blocks []refs.ContentBlock) []refs.ContentBlock {
	out := make([]refs.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case refs.BlockThinking:
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}

// redactSignatureAware implements the thinking-with-signatures rule, shared
// by the Anthropic-style and "Responses" provider families. If any thinking_signature block is
// present, thinking text is stripped and only signature + text blocks
// survive; otherwise thinking blocks are kept verbatim.
func redactSignatureAware(blocks []refs.ContentBlock) []refs.ContentBlock {
	hasSignature := false
	for _, b := range blocks {
		if b.Type == refs.BlockThinkingSignature {
			hasSignature = true
			break
		}
	}
	if !hasSignature {
		return blocks
	}
	out := make([]refs.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == refs.BlockThinking {
			continue
		}
		out = append(out, b)
	}
	return out
}

// StripSignatures removes thinking_signature blocks before anything reaches
// a human-facing view; signatures exist only for provider continuity. The
// history read surface applies it to every node it returns.
func StripSignatures(blocks []refs.ContentBlock) []refs.ContentBlock {
	out := make([]refs.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == refs.BlockThinkingSignature {
			continue
		}
		out = append(out, b)
	}
	return out
}
