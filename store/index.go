// Package store persists passages with their embeddings and answers
// nearest-neighbour queries. Every document gets its own VectorIndex.
package store

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"docqa/config"
	"docqa/types"
)

// VectorIndex is one document's passage index.
type VectorIndex interface {
	// LoadExisting attaches to a previously persisted index. A missing index
	// is reported as false with a nil error.
	LoadExisting(ctx context.Context) (bool, error)
	// Store replaces whatever is persisted at the index location.
	Store(ctx context.Context, chunks []types.Chunk, embeddings [][]float32) error
	// Retrieve returns at most k passages by descending cosine similarity.
	// Equal scores keep insertion order.
	Retrieve(ctx context.Context, query []float32, k int) ([]types.Passage, error)
	Close() error
}

// Backend creates per-document indexes of one kind.
type Backend interface {
	Kind() Kind
	// Open binds an index to documentID without touching storage.
	Open(documentID string) (VectorIndex, error)
	// Purge removes everything persisted for documentID. Missing data is
	// not an error.
	Purge(ctx context.Context, documentID string) error
	Close() error
}

type Kind string

const (
	KindFlat     Kind = "flat"
	KindManaged  Kind = "managed"
	KindPgvector Kind = "pgvector"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFlat, KindManaged, KindPgvector:
		return k, nil
	}
	return "", types.Configf("unknown vector store type %q (want flat, managed or pgvector)", s)
}

// NewBackend resolves the configured kind before any I/O happens.
func NewBackend(ctx context.Context, cfg config.VectorStoreConfig, logger *slog.Logger) (Backend, error) {
	kind, err := ParseKind(cfg.Type)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", string(kind))

	switch kind {
	case KindFlat:
		return NewFlatBackend(cfg.Path, logger), nil
	case KindManaged:
		return NewManagedBackend(cfg.Path, cfg.Compress, logger), nil
	default:
		if cfg.DSN == "" {
			return nil, types.Configf("vector_store.dsn is required for the pgvector backend")
		}
		return NewPostgresBackend(ctx, cfg.DSN, logger)
	}
}

// DocumentDir is the per-document directory under the base path.
func DocumentDir(base, documentID string) string {
	return filepath.Join(base, documentID)
}

// checkBatch validates a Store call and returns the common dimension.
func checkBatch(chunks []types.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, types.Validationf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(embeddings) == 0 {
		return 0, nil
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return 0, types.Validationf("embedding 0 is empty")
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return 0, types.Validationf("embedding %d has dimension %d, want %d", i, len(e), dim)
		}
		if norm(e) == 0 {
			return 0, types.Validationf("embedding %d is a zero vector", i)
		}
	}
	return dim, nil
}

func checkQuery(query []float32, dim int) error {
	if len(query) == 0 {
		return types.Validationf("empty query embedding")
	}
	if dim > 0 && len(query) != dim {
		return types.Validationf("query has dimension %d, index has %d", len(query), dim)
	}
	// cosine is undefined for a zero vector
	if norm(query) == 0 {
		return types.Validationf("query embedding is a zero vector")
	}
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity of a and b given their norms. Zero
// vectors score 0.
func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

type ranked struct {
	passage  types.Passage
	position int
}

// topK sorts by descending score, then by insertion position, and keeps k.
func topK(rs []ranked, k int) []types.Passage {
	slices.SortStableFunc(rs, func(a, b ranked) int {
		if c := cmp.Compare(b.passage.Score, a.passage.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.position, b.position)
	})
	if k > len(rs) {
		k = len(rs)
	}
	out := make([]types.Passage, 0, k)
	for _, r := range rs[:k] {
		out = append(out, r.passage)
	}
	return out
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
