package main

import (
	"fmt"
	"log/slog"
	"time"

	"docqa/internal/assistant"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/hashing"
	"docqa/internal/embedding/ollama"
	"docqa/internal/llm"
	"docqa/internal/loader"
	"docqa/internal/service"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

type app struct {
	svc       *service.RAGService
	assistant *assistant.Assistant
}

// build assembles the pipeline from cfg.
func build(cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	var emb embedding.Embedder
	switch cfg.Embedder.Type {
	case "ollama":
		client, err := ollama.NewClient(ollama.Config{
			BaseURL:    cfg.Embedder.Ollama.BaseURL,
			APIKeyEnv:  cfg.Embedder.Ollama.APIKeyEnv,
			Model:      cfg.Embedder.Ollama.Model,
			Timeout:    time.Duration(cfg.Embedder.Ollama.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Embedder.Ollama.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embedder init failed: %w", err)
		}
		emb = client
	case "hashing":
		emb = hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "recursive":
		rc, err := chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		ch = rc
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var backend vectorstore.Backend
	switch cfg.VectorStore.Type {
	case "memory":
		backend = &memory.Backend{Dir: cfg.VectorStore.Path, Embedder: emb.Name()}
	case "qdrant":
		backend = &qdrant.Backend{Config: qdrant.Config{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			Collection: cfg.VectorStore.Qdrant.Collection,
		}}
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}

	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency":
		sum = summarizer.NewFrequencySummarizer()
	case "none":
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}

	manifest, err := loader.LoadManifest(cfg.Documents.Manifest)
	if err != nil {
		return nil, err
	}
	ld := loader.New(loader.Config{Dir: cfg.Documents.Dir, Pattern: cfg.Documents.Pattern}, manifest, loader.PDFExtractor{}, logger)

	gen := llm.NewClient(llm.Config{
		BaseURL: cfg.Generator.BaseURL,
		Model:   cfg.Generator.Model,
		Timeout: time.Duration(cfg.Generator.TimeoutSecs) * time.Second,
	})

	svc := service.NewRAGService(service.Options{
		Loader:           ld,
		Chunker:          ch,
		Embedder:         emb,
		Backend:          backend,
		Generator:        gen,
		Prompt:           llm.NewPrompt(llm.Persona{Team: cfg.Assistant.Team, Contacts: cfg.Assistant.Contacts}),
		Summarizer:       sum,
		SummarySentences: cfg.Summarizer.MaxSentences,
		TopK:             cfg.Retrieval.TopK,
		Logger:           logger,
	})
	return &app{svc: svc, assistant: assistant.New(svc, logger)}, nil
}
