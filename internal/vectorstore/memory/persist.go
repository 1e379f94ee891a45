package memory

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.etcd.io/bbolt"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

const (
	// VectorsFile holds the raw vectors behind a fixed header.
	VectorsFile = "index.vec"
	// MetaFile is a bbolt database holding chunk records and index metadata.
	MetaFile = "index.meta"

	// Vector file header (v1):
	//   0..7   magic "DQAVEC01"
	//   8..15  dim (uint64 LE)
	//   16..23 count (uint64 LE)
	headerSize    = 24
	formatVersion = "1"
)

var (
	fileMagic = [8]byte{'D', 'Q', 'A', 'V', 'E', 'C', '0', '1'}

	bucketMeta   = []byte("meta")
	bucketChunks = []byte("chunks")

	keyFormat    = []byte("format")
	keyEmbedder  = []byte("embedder")
	keyDimension = []byte("dimension")
	keyCount     = []byte("count")
	keyChecksum  = []byte("checksum")
)

// ErrCorrupt marks persisted state that cannot be decoded or is inconsistent.
var ErrCorrupt = errors.New("corrupt index")

// Exists reports whether a saved index is present at dir, finishing an
// interrupted commit first if needed.
func Exists(dir string) (bool, error) {
	if err := recoverSwap(dir); err != nil {
		return false, err
	}
	vec, meta, err := present(dir)
	return vec || meta, err
}

// present reports which of the two index files exist in dir.
func present(dir string) (vec, meta bool, err error) {
	for _, f := range []struct {
		name string
		ok   *bool
	}{{VectorsFile, &vec}, {MetaFile, &meta}} {
		_, err := os.Stat(filepath.Join(dir, f.name))
		switch {
		case err == nil:
			*f.ok = true
		case !errors.Is(err, os.ErrNotExist):
			return false, false, fmt.Errorf("load index: %w", err)
		}
	}
	return vec, meta, nil
}

// Save writes the index to dir, replacing any prior state. Both files are
// written to a temporary sibling directory which is then swapped into place,
// so a crash never leaves a half-written pair at dir.
func (s *Storage) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	sum, err := s.writeVectors(filepath.Join(tmp, VectorsFile))
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := s.writeMeta(filepath.Join(tmp, MetaFile), sum); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := syncDir(tmp); err != nil {
		return err
	}
	return swapDir(tmp, dir)
}

func (s *Storage) writeVectors(path string) (uint64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	digest := xxhash.New()
	w := bufio.NewWriter(io.MultiWriter(f, digest))

	var header [headerSize]byte
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(header[8:16], uint64(s.dimension))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(s.vectors)))
	if _, err := w.Write(header[:]); err != nil {
		_ = f.Close()
		return 0, err
	}
	buf := make([]byte, 4*s.dimension)
	for _, v := range s.vectors {
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, err
	}
	return digest.Sum64(), f.Close()
}

func (s *Storage) writeMeta(path string, checksum uint64) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		chunks, err := tx.CreateBucketIfNotExists(bucketChunks)
		if err != nil {
			return err
		}
		pairs := [][2][]byte{
			{keyFormat, []byte(formatVersion)},
			{keyEmbedder, []byte(s.embedder)},
			{keyDimension, []byte(strconv.Itoa(s.dimension))},
			{keyCount, []byte(strconv.Itoa(len(s.chunks)))},
			{keyChecksum, []byte(strconv.FormatUint(checksum, 16))},
		}
		for _, kv := range pairs {
			if err := meta.Put(kv[0], kv[1]); err != nil {
				return err
			}
		}
		for i, c := range s.chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := chunks.Put(ordinalKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	return db.Close()
}

// Load restores an index saved by Save.
func Load(dir string) (*Storage, error) {
	if err := recoverSwap(dir); err != nil {
		return nil, err
	}
	hasVec, hasMeta, err := present(dir)
	switch {
	case err != nil:
		return nil, err
	case !hasVec && !hasMeta:
		return nil, fmt.Errorf("load index: %s: %w", dir, os.ErrNotExist)
	case !hasVec:
		return nil, fmt.Errorf("%w: %s present without %s", ErrCorrupt, MetaFile, VectorsFile)
	case !hasMeta:
		return nil, fmt.Errorf("%w: %s present without %s", ErrCorrupt, VectorsFile, MetaFile)
	}
	vecPath := filepath.Join(dir, VectorsFile)
	metaPath := filepath.Join(dir, MetaFile)

	meta, chunks, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(vecPath)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if got := xxhash.Sum64(data); got != meta.checksum {
		return nil, fmt.Errorf("%w: %s checksum %x, metadata says %x", ErrCorrupt, VectorsFile, got, meta.checksum)
	}
	dim, vectors, err := decodeVectors(data)
	if err != nil {
		return nil, err
	}
	if dim != meta.dimension {
		return nil, fmt.Errorf("%w: dimension %d in %s, %d in %s", ErrCorrupt, dim, VectorsFile, meta.dimension, MetaFile)
	}
	if len(vectors) != meta.count || len(chunks) != meta.count {
		return nil, fmt.Errorf("%w: %d vectors and %d chunks, metadata count %d", ErrCorrupt, len(vectors), len(chunks), meta.count)
	}

	s, err := New(meta.embedder, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.chunks = chunks
	s.vectors = vectors
	s.norms = make([]float64, len(vectors))
	for i, v := range vectors {
		s.norms[i] = norm(v)
	}
	return s, nil
}

type indexMeta struct {
	embedder  string
	dimension int
	count     int
	checksum  uint64
}

func readMeta(path string) (indexMeta, []domain.Chunk, error) {
	var (
		meta   indexMeta
		chunks []domain.Chunk
	)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return meta, nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, MetaFile, err)
	}
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		cb := tx.Bucket(bucketChunks)
		if mb == nil || cb == nil {
			return errors.New("missing bucket")
		}
		if v := string(mb.Get(keyFormat)); v != formatVersion {
			return fmt.Errorf("unsupported format %q", v)
		}
		meta.embedder = string(mb.Get(keyEmbedder))
		var err error
		if meta.dimension, err = strconv.Atoi(string(mb.Get(keyDimension))); err != nil {
			return fmt.Errorf("dimension: %v", err)
		}
		if meta.count, err = strconv.Atoi(string(mb.Get(keyCount))); err != nil {
			return fmt.Errorf("count: %v", err)
		}
		if meta.checksum, err = strconv.ParseUint(string(mb.Get(keyChecksum)), 16, 64); err != nil {
			return fmt.Errorf("checksum: %v", err)
		}
		chunks = make([]domain.Chunk, 0, meta.count)
		return cb.ForEach(func(k, v []byte) error {
			var c domain.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("chunk %x: %v", k, err)
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, MetaFile, err)
	}
	return meta, chunks, nil
}

func decodeVectors(data []byte) (int, [][]float32, error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: %s too small for header: %d < %d", ErrCorrupt, VectorsFile, len(data), headerSize)
	}
	var mg [8]byte
	copy(mg[:], data[:8])
	if mg != fileMagic {
		return 0, nil, fmt.Errorf("%w: %s magic mismatch", ErrCorrupt, VectorsFile)
	}
	dim := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if dim == 0 {
		return 0, nil, fmt.Errorf("%w: %s dim=0", ErrCorrupt, VectorsFile)
	}
	want := uint64(headerSize) + count*dim*4
	if uint64(len(data)) != want {
		return 0, nil, fmt.Errorf("%w: %s is %d bytes, header implies %d", ErrCorrupt, VectorsFile, len(data), want)
	}
	vectors := make([][]float32, count)
	off := headerSize
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return int(dim), vectors, nil
}

func ordinalKey(i int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i))
	return k[:]
}

// swapDir replaces dir with tmp. The previous state is parked at dir.old
// until the new one is in place.
func swapDir(tmp, dir string) error {
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp, dir); err != nil {
		_ = os.Rename(old, dir)
		return err
	}
	if err := syncDir(filepath.Dir(dir)); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// recoverSwap promotes dir.old when a crash hit between the two renames of swapDir.
func recoverSwap(dir string) error {
	old := dir + ".old"
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if _, err := os.Stat(old); err != nil {
		return nil
	}
	return os.Rename(old, dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the renames are still ordered.
	_ = d.Sync()
	return nil
}

// Backend keeps the index in memory and commits it to Dir.
type Backend struct {
	Dir      string
	Embedder string
}

// Open loads the index at Dir and checks it was built by the same embedder.
func (b *Backend) Open(context.Context) (vectorstore.Storage, error) {
	s, err := Load(b.Dir)
	if err != nil {
		return nil, err
	}
	if b.Embedder != "" && s.embedder != b.Embedder {
		return nil, fmt.Errorf("index at %s was built with embedder %q, configured embedder is %q", b.Dir, s.embedder, b.Embedder)
	}
	return s, nil
}

// Create builds a fresh in-memory index; nothing is written until Commit.
func (b *Backend) Create(_ context.Context, chunks []domain.Chunk, vectors [][]float32) (vectorstore.Storage, error) {
	return Create(b.Embedder, chunks, vectors)
}

// Commit saves s to Dir.
func (b *Backend) Commit(_ context.Context, s vectorstore.Storage) error {
	ms, ok := s.(*Storage)
	if !ok {
		return fmt.Errorf("memory backend cannot commit %T", s)
	}
	return ms.Save(b.Dir)
}

var _ vectorstore.Backend = (*Backend)(nil)
