package vectorstore

import (
	"context"
	"errors"

	"docqa/internal/domain"
)

// ErrNoChunks is returned when an index would be created from an empty set.
var ErrNoChunks = errors.New("vectorstore: no chunks to index")

// Storage persists vectors and supports similarity search.
// It is append-only: there is no update or delete path.
type Storage interface {
	Add(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend opens or creates the Storage behind the pipeline.
type Backend interface {
	// Open returns the existing index, or an error wrapping fs.ErrNotExist when none exists.
	Open(ctx context.Context) (Storage, error)
	// Create builds a new index from the first batch of chunks.
	Create(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (Storage, error)
	// Commit makes the current state of s durable.
	Commit(ctx context.Context, s Storage) error
}

// SourceLister is implemented by stores that can enumerate the files they hold.
type SourceLister interface {
	Sources() []string
}

// CheckBatch validates that chunks and vectors line up one to one.
func CheckBatch(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	return nil
}
