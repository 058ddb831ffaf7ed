package store

import (
	"context"
	"encoding/gob"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"docqa/types"
)

const flatFile = "index.flat"

// FlatBackend keeps each index in memory and snapshots it to a single
// zstd-compressed gob file.
type FlatBackend struct {
	base   string
	logger *slog.Logger
}

func NewFlatBackend(base string, logger *slog.Logger) *FlatBackend {
	return &FlatBackend{base: base, logger: logger}
}

func (b *FlatBackend) Kind() Kind { return KindFlat }

func (b *FlatBackend) Open(documentID string) (VectorIndex, error) {
	if documentID == "" {
		return nil, types.Validationf("empty document id")
	}
	return &FlatIndex{
		path:   filepath.Join(DocumentDir(b.base, documentID), flatFile),
		logger: b.logger.With("document_id", documentID),
	}, nil
}

func (b *FlatBackend) Purge(_ context.Context, documentID string) error {
	err := os.Remove(filepath.Join(DocumentDir(b.base, documentID), flatFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.StorageErr("purge flat index", err)
	}
	return nil
}

func (b *FlatBackend) Close() error { return nil }

type flatEntry struct {
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

type flatSnapshot struct {
	Dim     int
	Entries []flatEntry
}

// FlatIndex is an exact brute-force cosine index.
type FlatIndex struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	dim     int
	entries []flatEntry
	norms   []float64
	closed  bool
}

func (x *FlatIndex) LoadExisting(_ context.Context) (bool, error) {
	f, err := os.Open(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, types.StorageErr("open flat index", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, types.StorageErr("open flat index", err)
	}
	defer dec.Close()

	var snap flatSnapshot
	if err := gob.NewDecoder(dec).Decode(&snap); err != nil {
		return false, types.StorageErr("decode flat index", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.set(snap)
	x.logger.Debug("flat index loaded", "passages", len(snap.Entries))
	return true, nil
}

func (x *FlatIndex) Store(_ context.Context, chunks []types.Chunk, embeddings [][]float32) error {
	dim, err := checkBatch(chunks, embeddings)
	if err != nil {
		return err
	}

	snap := flatSnapshot{Dim: dim, Entries: make([]flatEntry, len(chunks))}
	for i, ch := range chunks {
		snap.Entries[i] = flatEntry{
			Content:   ch.Content,
			Metadata:  copyMetadata(ch.Metadata),
			Embedding: embeddings[i],
		}
	}

	if err := x.write(snap); err != nil {
		return types.StorageErr("write flat index", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.set(snap)
	return nil
}

// write replaces the snapshot file atomically.
func (x *FlatIndex) write(snap flatSnapshot) error {
	dir := filepath.Dir(x.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, flatFile+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := gob.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		tmp.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), x.path)
}

func (x *FlatIndex) set(snap flatSnapshot) {
	x.dim = snap.Dim
	x.entries = snap.Entries
	x.norms = make([]float64, len(snap.Entries))
	for i, e := range snap.Entries {
		x.norms[i] = norm(e.Embedding)
	}
}

func (x *FlatIndex) Retrieve(_ context.Context, query []float32, k int) ([]types.Passage, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, types.StorageErr("retrieve", errIndexClosed)
	}
	if len(x.entries) == 0 || k <= 0 {
		return []types.Passage{}, nil
	}
	if err := checkQuery(query, x.dim); err != nil {
		return nil, err
	}

	qn := norm(query)
	rs := make([]ranked, len(x.entries))
	for i, e := range x.entries {
		rs[i] = ranked{
			passage: types.Passage{
				Content:  e.Content,
				Metadata: copyMetadata(e.Metadata),
				Score:    cosine(e.Embedding, query, x.norms[i], qn),
			},
			position: i,
		}
	}
	return topK(rs, k), nil
}

func (x *FlatIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.entries = nil
	x.norms = nil
	return nil
}

var errIndexClosed = errors.New("index is closed")
