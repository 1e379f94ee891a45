package loader

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manifest is the set of files already ingested, one path per line.
type Manifest struct {
	mu    sync.Mutex
	path  string
	order []string
	set   map[string]struct{}
}

// LoadManifest reads the manifest at path. A missing file is an empty set.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path, set: make(map[string]struct{})}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		m.add(line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

func (m *Manifest) Path() string { return m.path }

func (m *Manifest) Contains(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[filepath.Clean(path)]
	return ok
}

// Add records paths in memory and returns the ones that were not yet present.
func (m *Manifest) Add(paths ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []string
	for _, p := range paths {
		if m.add(p) {
			added = append(added, filepath.Clean(p))
		}
	}
	return added
}

func (m *Manifest) add(p string) bool {
	p = filepath.Clean(p)
	if _, ok := m.set[p]; ok {
		return false
	}
	m.set[p] = struct{}{}
	m.order = append(m.order, p)
	return true
}

// Paths returns the recorded paths in insertion order.
func (m *Manifest) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Commit adds paths and rewrites the manifest file atomically.
func (m *Manifest) Commit(paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		m.add(p)
	}
	var b strings.Builder
	for _, p := range m.order {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	if err := writeFileAtomic(m.path, []byte(b.String())); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
