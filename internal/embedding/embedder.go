package embedding

import (
	"context"
	"fmt"

	"docqa/internal/domain"
)

// Embedder converts free text into a fixed-dimension vector.
// Implementations are constructed once and shared for the process lifetime.
type Embedder = domain.Embedder

// EmbedAll embeds texts one at a time, in order.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}
