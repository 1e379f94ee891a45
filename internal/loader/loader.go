package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"docqa/internal/domain"
)

// Extractor turns one file into page documents.
type Extractor interface {
	Extract(path string) ([]domain.Document, error)
}

type Config struct {
	Dir     string
	Pattern string
}

// Batch is the result of one scan: the documents of every new file and the
// paths they came from. Files with no extractable text are left out of Paths
// so later runs look at them again.
type Batch struct {
	Documents []domain.Document
	Paths     []string
}

type Loader struct {
	cfg       Config
	manifest  *Manifest
	extractor Extractor
	logger    *slog.Logger
}

func New(cfg Config, manifest *Manifest, extractor Extractor, logger *slog.Logger) *Loader {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.pdf"
	}
	if extractor == nil {
		extractor = PDFExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, manifest: manifest, extractor: extractor, logger: logger}
}

func (l *Loader) Manifest() *Manifest { return l.manifest }

// Scan lists the files matching the pattern, sorted. A missing directory
// yields no files.
func (l *Loader) Scan() ([]string, error) {
	if _, err := os.Stat(l.cfg.Dir); os.IsNotExist(err) {
		l.logger.Warn("document directory does not exist", "dir", l.cfg.Dir)
		return nil, nil
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(l.cfg.Dir, l.cfg.Pattern))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.cfg.Dir, err)
	}
	files := matches[:0]
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", m, err)
		}
		if fi.Mode().IsRegular() {
			files = append(files, filepath.Clean(m))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadNew extracts every matching file not yet in the manifest. The first
// extraction failure aborts the batch. The manifest is left untouched.
func (l *Loader) LoadNew(ctx context.Context) (Batch, error) {
	files, err := l.Scan()
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	for _, path := range files {
		if l.manifest.Contains(path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		docs, err := l.extractor.Extract(path)
		if err != nil {
			return Batch{}, fmt.Errorf("load %s: %w", path, err)
		}
		if len(docs) == 0 {
			l.logger.Warn("document has no extractable text", "path", path)
			continue
		}
		l.logger.Debug("loaded document", "path", path, "pages", len(docs))
		b.Documents = append(b.Documents, docs...)
		b.Paths = append(b.Paths, path)
	}
	return b, nil
}
