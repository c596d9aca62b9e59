package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EmbedFunc turns text into a vector. Implemented by LLMService.Embed and
// by fakes in tests.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EmbeddingGateway enforces the UTF-8 byte ceiling of the embedding model
// before delegating to EmbedFunc.
type EmbeddingGateway struct {
	embed    EmbedFunc
	maxBytes int
	logger   *zap.Logger
}

func NewEmbeddingGateway(embed EmbedFunc, maxBytes int, logger *zap.Logger) *EmbeddingGateway {
	return &EmbeddingGateway{embed: embed, maxBytes: maxBytes, logger: logger}
}

func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if n := len(text); g.maxBytes > 0 && n > g.maxBytes {
		text = TruncateToBytes(text, g.maxBytes)
		g.logger.Debug("truncated text for embedding",
			zap.Int("original_bytes", n), zap.Int("truncated_bytes", len(text)))
	}
	vec, err := g.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return vec, nil
}

// TruncateToBytes shrinks text to 90% of its rune count until its UTF-8
// encoding fits in maxBytes. Every round removes at least one rune.
func TruncateToBytes(text string, maxBytes int) string {
	if maxBytes <= 0 {
		return text
	}
	for len(text) > maxBytes {
		runes := []rune(text)
		keep := len(runes) * 9 / 10
		if keep >= len(runes) {
			keep = len(runes) - 1
		}
		text = string(runes[:keep])
	}
	return text
}
