package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"docqa/types"
)

const (
	chromaDir        = "chroma"
	chromaCollection = "passages"
)

// ManagedBackend stores each document in its own persistent chromem-go
// database under <base>/<document_id>/chroma.
type ManagedBackend struct {
	base     string
	compress bool
	logger   *slog.Logger
}

func NewManagedBackend(base string, compress bool, logger *slog.Logger) *ManagedBackend {
	return &ManagedBackend{base: base, compress: compress, logger: logger}
}

func (b *ManagedBackend) Kind() Kind { return KindManaged }

func (b *ManagedBackend) Open(documentID string) (VectorIndex, error) {
	if documentID == "" {
		return nil, types.Validationf("empty document id")
	}
	return &ManagedIndex{
		path:     filepath.Join(DocumentDir(b.base, documentID), chromaDir),
		compress: b.compress,
		logger:   b.logger.With("document_id", documentID),
	}, nil
}

func (b *ManagedBackend) Purge(_ context.Context, documentID string) error {
	if err := os.RemoveAll(filepath.Join(DocumentDir(b.base, documentID), chromaDir)); err != nil {
		return types.StorageErr("purge managed index", err)
	}
	return nil
}

func (b *ManagedBackend) Close() error { return nil }

// ManagedIndex wraps one chromem-go collection. Documents are keyed by their
// zero-padded insertion position so ties can be ordered after a query.
type ManagedIndex struct {
	path     string
	compress bool
	logger   *slog.Logger

	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dim        int
	closed     bool
}

func passageID(i int) string { return fmt.Sprintf("%08d", i) }

func (x *ManagedIndex) LoadExisting(ctx context.Context) (bool, error) {
	if _, err := os.Stat(x.path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, types.StorageErr("stat managed index", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	db, err := chromem.NewPersistentDB(x.path, x.compress)
	if err != nil {
		return false, types.StorageErr("open managed index", err)
	}
	x.db = db

	c := db.GetCollection(chromaCollection, nil)
	if c == nil || c.Count() == 0 {
		return false, nil
	}
	first, err := c.GetByID(ctx, passageID(0))
	if err != nil {
		return false, types.StorageErr("read managed index", err)
	}
	x.collection = c
	x.dim = len(first.Embedding)
	x.logger.Debug("managed index loaded", "passages", c.Count())
	return true, nil
}

func (x *ManagedIndex) Store(ctx context.Context, chunks []types.Chunk, embeddings [][]float32) error {
	dim, err := checkBatch(chunks, embeddings)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.db == nil {
		if err := os.MkdirAll(x.path, 0o755); err != nil {
			return types.StorageErr("create managed index", err)
		}
		db, err := chromem.NewPersistentDB(x.path, x.compress)
		if err != nil {
			return types.StorageErr("open managed index", err)
		}
		x.db = db
	}

	// replace whatever a previous run left behind
	if err := x.db.DeleteCollection(chromaCollection); err != nil {
		return types.StorageErr("reset managed index", err)
	}
	c, err := x.db.CreateCollection(chromaCollection, map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return types.StorageErr("create managed collection", err)
	}

	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		metadatas := make([]map[string]string, len(chunks))
		contents := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = passageID(i)
			metadatas[i] = copyMetadata(ch.Metadata)
			contents[i] = ch.Content
		}
		if err := c.Add(ctx, ids, embeddings, metadatas, contents); err != nil {
			return types.StorageErr("add passages", err)
		}
	}

	x.collection = c
	x.dim = dim
	return nil
}

func (x *ManagedIndex) Retrieve(ctx context.Context, query []float32, k int) ([]types.Passage, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, types.StorageErr("retrieve", errIndexClosed)
	}
	if x.collection == nil || k <= 0 {
		return []types.Passage{}, nil
	}
	n := x.collection.Count()
	if n == 0 {
		return []types.Passage{}, nil
	}
	if err := checkQuery(query, x.dim); err != nil {
		return nil, err
	}

	// chromem orders concurrently computed results by similarity only, so
	// fetch everything and apply the index-wide tie rule.
	results, err := x.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, types.StorageErr("query managed index", err)
	}

	rs := make([]ranked, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, types.StorageErr("query managed index", fmt.Errorf("unexpected passage id %q", r.ID))
		}
		rs = append(rs, ranked{
			passage: types.Passage{
				Content:  r.Content,
				Metadata: copyMetadata(r.Metadata),
				Score:    float64(r.Similarity),
			},
			position: pos,
		})
	}
	return topK(rs, k), nil
}

func (x *ManagedIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.collection = nil
	x.db = nil
	return nil
}
