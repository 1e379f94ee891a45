package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// Storage is an in-memory vector index using brute-force cosine similarity.
// It is persisted as a file pair by Save and restored by Load.
type Storage struct {
	mu        sync.RWMutex
	embedder  string
	dimension int
	vectors   [][]float32
	norms     []float64
	chunks    []domain.Chunk
}

// New returns an empty index for vectors produced by the named embedder.
func New(embedder string, dimension int) (*Storage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	return &Storage{embedder: embedder, dimension: dimension}, nil
}

// Create builds an index from an initial batch. The batch must not be empty.
func Create(embedder string, chunks []domain.Chunk, vectors [][]float32) (*Storage, error) {
	if len(chunks) == 0 {
		return nil, vectorstore.ErrNoChunks
	}
	if err := vectorstore.CheckBatch(chunks, vectors); err != nil {
		return nil, err
	}
	s, err := New(embedder, len(vectors[0]))
	if err != nil {
		return nil, err
	}
	if err := s.Add(context.Background(), chunks, vectors); err != nil {
		return nil, err
	}
	return s, nil
}

// Embedder returns the name of the embedder the stored vectors came from.
func (s *Storage) Embedder() string { return s.embedder }

// Dimension returns the vector width of the index.
func (s *Storage) Dimension() int { return s.dimension }

// Add appends chunks and their vectors.
func (s *Storage) Add(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if err := vectorstore.CheckBatch(chunks, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: index %d, got %d", s.dimension, len(v))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range vectors {
		s.chunks = append(s.chunks, chunks[i])
		s.vectors = append(s.vectors, vectors[i])
		s.norms = append(s.norms, norm(vectors[i]))
	}
	return nil
}

// Search returns the topK chunks most similar to vector, best first.
// Exact ties keep insertion order.
func (s *Storage) Search(_ context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: index %d, got %d", s.dimension, len(vector))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 3
	}
	qn := norm(vector)
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		scores[i] = cosine(s.vectors[i], s.norms[i], vector, qn)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, j := range idxs[:topK] {
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// Sources lists the distinct source paths in insertion order.
func (s *Storage) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range s.chunks {
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		out = append(out, c.Source)
	}
	return out
}

// Close is a no-op; state lives in memory until Save.
func (s *Storage) Close() error { return nil }

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	dot := 0.0
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool { return vals[idxs[i]] > vals[idxs[j]] })
	return idxs
}

var (
	_ vectorstore.Storage      = (*Storage)(nil)
	_ vectorstore.SourceLister = (*Storage)(nil)
)
