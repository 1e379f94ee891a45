package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/llm"
	"docqa/internal/loader"
	"docqa/internal/observability"
	"docqa/internal/vectorstore"
)

var (
	// ErrNoIndex means there is neither a saved index nor any document to build one from.
	ErrNoIndex = errors.New("no index found and no documents to ingest")
	// ErrNoAnswer means the language model produced no usable answer.
	ErrNoAnswer = errors.New("no answer generated")
)

// DocumentLoader yields documents not yet recorded in its manifest.
type DocumentLoader interface {
	LoadNew(ctx context.Context) (loader.Batch, error)
	Manifest() *loader.Manifest
}

// Options wires the pipeline components.
type Options struct {
	Loader           DocumentLoader
	Chunker          domain.Chunker
	Embedder         domain.Embedder
	Backend          vectorstore.Backend
	Generator        domain.Generator
	Prompt           *llm.Prompt
	Summarizer       domain.Summarizer
	SummarySentences int
	TopK             int
	Logger           *slog.Logger
}

// IngestReport describes one ingestion pass.
type IngestReport struct {
	NewFiles []string
	Chunks   int
	Total    int
	Created  bool
	Summary  string
}

// RAGService ingests documents into the index and answers questions from it.
type RAGService struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	store vectorstore.Storage
}

func NewRAGService(opts Options) *RAGService {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGService{opts: opts, logger: logger}
}

// Ingest loads the existing index (if any), extends it with chunks from new
// documents, saves it, and only then records the new files in the manifest.
// When nothing new is found no file is written.
func (s *RAGService) Ingest(ctx context.Context) (report IngestReport, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanIngest)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.store
	if store == nil {
		store, err = s.opts.Backend.Open(ctx)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			store = nil
		case err != nil:
			return report, fmt.Errorf("open index: %w", err)
		default:
			s.logger.Info("loaded existing index")
		}
	}
	if store != nil {
		if err := s.healManifest(store); err != nil {
			return report, err
		}
	}

	batch, err := s.opts.Loader.LoadNew(ctx)
	if err != nil {
		return report, fmt.Errorf("load documents: %w", err)
	}
	report.NewFiles = batch.Paths
	s.logger.Info("loaded new documents", "files", len(batch.Paths), "pages", len(batch.Documents))

	chunks, err := s.opts.Chunker.Chunk(batch.Documents)
	if err != nil {
		return report, fmt.Errorf("chunk documents: %w", err)
	}
	report.Chunks = len(chunks)
	span.SetAttributes(attribute.Int("docqa.new_files", len(batch.Paths)), attribute.Int("docqa.new_chunks", len(chunks)))

	if len(chunks) == 0 {
		if len(batch.Paths) > 0 {
			s.logger.Warn("new documents contained no text", "files", batch.Paths)
		}
		if store == nil {
			return report, ErrNoIndex
		}
		s.store = store
		report.Total, err = store.Count(ctx)
		return report, err
	}
	s.logger.Info("split documents into chunks", "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedding.EmbedAll(ctx, s.opts.Embedder, texts)
	if err != nil {
		return report, err
	}

	if store == nil {
		store, err = s.opts.Backend.Create(ctx, chunks, vectors)
		if err != nil {
			return report, fmt.Errorf("create index: %w", err)
		}
		report.Created = true
		s.logger.Info("created new index", "chunks", len(chunks))
	} else {
		if err := store.Add(ctx, chunks, vectors); err != nil {
			s.discard(store)
			return report, fmt.Errorf("extend index: %w", err)
		}
		s.logger.Info("extended index", "chunks", len(chunks))
	}

	if err := s.opts.Backend.Commit(ctx, store); err != nil {
		s.discard(store)
		return report, fmt.Errorf("save index: %w", err)
	}
	s.store = store
	if err := s.opts.Loader.Manifest().Commit(batch.Paths...); err != nil {
		return report, err
	}
	s.logger.Info("saved index", "files", len(batch.Paths))

	if report.Total, err = store.Count(ctx); err != nil {
		return report, err
	}
	report.Summary = s.summarize(batch.Documents)
	return report, nil
}

// discard drops an index whose in-memory state may be ahead of disk, so the
// next pass reopens what was last committed.
func (s *RAGService) discard(store vectorstore.Storage) {
	if err := store.Close(); err != nil {
		s.logger.Warn("close index failed", "err", err)
	}
	s.store = nil
}

// healManifest records sources that reached the index but not the manifest,
// which happens when a run stops between the two commits.
func (s *RAGService) healManifest(store vectorstore.Storage) error {
	lister, ok := store.(vectorstore.SourceLister)
	if !ok {
		return nil
	}
	m := s.opts.Loader.Manifest()
	added := m.Add(lister.Sources()...)
	if len(added) == 0 {
		return nil
	}
	s.logger.Warn("manifest was missing indexed files", "files", added)
	return m.Commit()
}

func (s *RAGService) summarize(docs []domain.Document) string {
	if s.opts.Summarizer == nil || len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	summary, err := s.opts.Summarizer.Summarize(b.String(), s.opts.SummarySentences)
	if err != nil {
		s.logger.Warn("summarize failed", "err", err)
		return ""
	}
	return summary
}

// Retrieve embeds the query and returns the top-k chunk texts joined by a
// blank line, together with the raw results.
func (s *RAGService) Retrieve(ctx context.Context, query string) (text string, results []domain.SearchResult, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanRetrieve)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return "", nil, ErrNoIndex
	}

	vec, err := s.opts.Embedder.Embed(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("embed query: %w", err)
	}
	results, err = store.Search(ctx, vec, s.opts.TopK)
	if err != nil {
		return "", nil, fmt.Errorf("search index: %w", err)
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}
	span.SetAttributes(attribute.Int("docqa.results", len(results)))
	s.logger.Debug("retrieved context", "chunks", len(results))
	return strings.Join(texts, "\n\n"), results, nil
}

// Answer retrieves context for query and asks the model. A failed or empty
// generation is reported as ErrNoAnswer.
func (s *RAGService) Answer(ctx context.Context, query string) (answer string, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanAnswer)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	contextText, _, err := s.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	prompt, err := s.opts.Prompt.Render(contextText, query)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	text, err := s.opts.Generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error("LLM request failed", "err", err)
		return "", fmt.Errorf("%w: %v", ErrNoAnswer, err)
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Error("LLM returned an empty response")
		return "", ErrNoAnswer
	}
	s.logger.Info("got LLM response", "chars", len(text))
	return text, nil
}

// Close releases the index.
func (s *RAGService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
