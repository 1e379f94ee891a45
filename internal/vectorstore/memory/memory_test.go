package memory

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

func chunk(id, text string) domain.Chunk {
	return domain.Chunk{ID: id, Source: "pdfs/" + id + ".pdf", Page: 1, Text: text}
}

func seeded(t *testing.T) *Storage {
	t.Helper()
	s, err := Create("test/2",
		[]domain.Chunk{chunk("a", "A"), chunk("b", "B"), chunk("c", "C")},
		[][]float32{{1, 0}, {0, 1}, {0.7, 0.7}},
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestCreate_EmptyFails(t *testing.T) {
	if _, err := Create("test/2", nil, nil); !errors.Is(err, vectorstore.ErrNoChunks) {
		t.Fatalf("expected ErrNoChunks, got %v", err)
	}
}

func TestAdd_RejectsMismatches(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	if err := s.Add(ctx, []domain.Chunk{chunk("d", "D")}, nil); err == nil {
		t.Error("expected length mismatch error")
	}
	if err := s.Add(ctx, []domain.Chunk{chunk("d", "D")}, [][]float32{{1, 2, 3}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestSearch_RanksByCosine(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float32{0.9, 0.1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].Chunk.ID != "a" || res[1].Chunk.ID != "c" {
		t.Fatalf("unexpected order: %s, %s", res[0].Chunk.ID, res[1].Chunk.ID)
	}
	if res[0].Score < res[1].Score {
		t.Fatalf("scores not descending: %v", res)
	}
}

func TestSearch_TopKBounds(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("expected all 3 chunks when topK > count, got %d", len(res))
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	s, err := Create("test/2",
		[]domain.Chunk{chunk("x", "X"), chunk("y", "Y"), chunk("z", "Z")},
		[][]float32{{1, 0}, {2, 0}, {3, 0}},
	)
	if err != nil {
		t.Fatal(err)
	}
	res, _ := s.Search(context.Background(), []float32{1, 0}, 3)
	var ids []string
	for _, r := range res {
		ids = append(ids, r.Chunk.ID)
	}
	if !reflect.DeepEqual(ids, []string{"x", "y", "z"}) {
		t.Fatalf("tie order = %v", ids)
	}
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	s := seeded(t)
	if _, err := s.Search(context.Background(), []float32{1}, 1); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestSources(t *testing.T) {
	s := seeded(t)
	_ = s.Add(context.Background(), []domain.Chunk{chunk("a", "A again")}, [][]float32{{1, 1}})
	want := []string{"pdfs/a.pdf", "pdfs/b.pdf", "pdfs/c.pdf"}
	if got := s.Sources(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Sources() = %v, want %v", got, want)
	}
}

func TestSaveLoad_SearchRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectorstores", "idx")
	s := seeded(t)
	ctx := context.Background()
	query := []float32{0.6, 0.4}
	before, _ := s.Search(ctx, query, 3)

	if err := s.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	after, err := loaded.Search(ctx, query, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("search results differ after round trip:\nbefore %+v\nafter  %+v", before, after)
	}
	if loaded.Embedder() != "test/2" || loaded.Dimension() != 2 {
		t.Fatalf("metadata lost: %q/%d", loaded.Embedder(), loaded.Dimension())
	}
	for _, leftover := range []string{dir + ".old"} {
		if _, err := os.Stat(leftover); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s should not exist after commit", leftover)
		}
	}
}

func TestSave_OverwritesPriorState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	s := seeded(t)
	if err := s.Save(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(context.Background(), []domain.Chunk{chunk("d", "D")}, [][]float32{{-1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := loaded.Count(context.Background()); n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
	entries, _ := os.ReadDir(filepath.Dir(dir))
	if len(entries) != 1 {
		t.Fatalf("expected only the index dir to remain, got %d entries", len(entries))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	ok, err := Exists(filepath.Join(t.TempDir(), "nope"))
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestLoad_HalfPresentPairIsCorrupt(t *testing.T) {
	for _, missing := range []string{MetaFile, VectorsFile} {
		t.Run(missing, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "idx")
			if err := seeded(t).Save(dir); err != nil {
				t.Fatal(err)
			}
			if err := os.Remove(filepath.Join(dir, missing)); err != nil {
				t.Fatal(err)
			}
			_, err := Load(dir)
			if !errors.Is(err, ErrCorrupt) || errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("expected ErrCorrupt without ErrNotExist, got %v", err)
			}
			if ok, err := Exists(dir); err != nil || !ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
			b := &Backend{Dir: dir}
			if _, err := b.Open(context.Background()); errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("Open must not report a missing index, got %v", err)
			}
		})
	}
}

func TestLoad_CorruptVectors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	if err := seeded(t).Save(dir); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, VectorsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoad_TruncatedVectors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	if err := seeded(t).Save(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, VectorsFile), []byte("DQAVEC"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoad_RecoversInterruptedSwap(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	if err := seeded(t).Save(dir); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash after dir was parked but before tmp was renamed in.
	if err := os.Rename(dir, dir+".old"); err != nil {
		t.Fatal(err)
	}
	ok, err := Exists(dir)
	if err != nil || !ok {
		t.Fatalf("Exists after crash = %v, %v", ok, err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load after recovery: %v", err)
	}
}

func TestBackend_EmbedderMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	if err := seeded(t).Save(dir); err != nil {
		t.Fatal(err)
	}
	b := &Backend{Dir: dir, Embedder: "other/2"}
	if _, err := b.Open(context.Background()); err == nil {
		t.Fatal("expected embedder mismatch error")
	}
	b.Embedder = "test/2"
	if _, err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
}
