// Package registry owns the document sessions: it ingests uploads into fresh
// per-document indexes, routes questions to them and tears them down.
package registry

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docqa/app/agent"
	"docqa/config"
	"docqa/loader"
	"docqa/model"
	"docqa/store"
	"docqa/types"
)

type Options struct {
	Config    *config.Config
	Backend   store.Backend
	Embedder  model.Embedder
	Generator model.Generator
	// Chunker and Loader are built from Config when nil.
	Chunker *loader.Chunker
	Loader  *loader.PDFLoader
	Logger  *slog.Logger
}

// Registry maps document ids to sessions. The map lock is never held
// across I/O; ids never block each other.
type Registry struct {
	cfg       *config.Config
	backend   store.Backend
	embedder  model.Embedder
	generator model.Generator
	chunker   *loader.Chunker
	loader    *loader.PDFLoader
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

func New(opts Options) (*Registry, error) {
	if opts.Config == nil {
		return nil, types.Configf("registry needs a configuration")
	}
	if opts.Backend == nil || opts.Embedder == nil || opts.Generator == nil {
		return nil, types.Configf("registry needs a backend, an embedder and a generator")
	}
	// fail at construction, not on the first upload
	if _, err := agent.LookupTemplate(opts.Config.Retrieval.PromptTemplate); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Chunker == nil {
		c, err := loader.NewChunker(opts.Config.Chunker.ChunkSize, opts.Config.Chunker.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		opts.Chunker = c
	}
	if opts.Loader == nil {
		opts.Loader = loader.NewPDFLoader(opts.Logger)
	}

	return &Registry{
		cfg:       opts.Config,
		backend:   opts.Backend,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		chunker:   opts.Chunker,
		loader:    opts.Loader,
		logger:    opts.Logger,
		sessions:  make(map[string]*session),
	}, nil
}

func (r *Registry) documentDir(id string) string {
	return store.DocumentDir(r.cfg.VectorStore.Path, id)
}

// Ingest parses, chunks, embeds and indexes an upload under a fresh id. The
// session becomes visible only once everything succeeded; on failure the
// id's storage is purged.
func (r *Registry) Ingest(ctx context.Context, data []byte, filename string) (types.DocumentMetadata, error) {
	start := time.Now()

	docs, err := r.loader.Load(ctx, data, filename)
	if err != nil {
		return types.DocumentMetadata{}, types.Classify(err)
	}
	chunks := r.chunker.SplitAll(docs)
	if len(chunks) == 0 {
		return types.DocumentMetadata{}, types.Validationf("%s: nothing to index", filename)
	}

	id := uuid.NewString()
	logger := r.logger.With("document_id", id, "filename", filename)

	embeddings, err := r.embedChunks(ctx, chunks)
	if err != nil {
		return types.DocumentMetadata{}, types.Classify(err)
	}

	index, err := r.backend.Open(id)
	if err != nil {
		return types.DocumentMetadata{}, types.Classify(err)
	}

	sess, err := r.build(ctx, logger, index, chunks, embeddings)
	if err != nil {
		r.discard(id, index)
		return types.DocumentMetadata{}, types.Classify(err)
	}

	sess.meta = types.DocumentMetadata{
		DocumentID: id,
		Filename:   filename,
		UploadedAt: time.Now().UTC(),
		Pages:      len(docs),
		Chunks:     len(chunks),
	}
	err = writeManifest(r.documentDir(id), manifest{
		DocumentMetadata: sess.meta,
		Backend:          string(r.backend.Kind()),
		Embedder:         r.embedder.Name(),
	})
	if err != nil {
		r.discard(id, index)
		return types.DocumentMetadata{}, types.StorageErr("write manifest", err)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	logger.Info("document ingested", "pages", len(docs), "chunks", len(chunks), "took", time.Since(start))
	return sess.meta, nil
}

// build attaches to an existing index at the location or stores the fresh
// chunks there, then binds an engine to it.
func (r *Registry) build(ctx context.Context, logger *slog.Logger, index store.VectorIndex, chunks []types.Chunk, embeddings [][]float32) (*session, error) {
	found, err := index.LoadExisting(ctx)
	if err != nil {
		// the following Store owns the location
		logger.Warn("existing index unreadable, rebuilding", "err", err)
		found = false
	}
	if found {
		logger.Info("attached to existing index")
	} else if err := index.Store(ctx, chunks, embeddings); err != nil {
		return nil, err
	}
	return r.bind(index)
}

func (r *Registry) bind(index store.VectorIndex) (*session, error) {
	engine, err := agent.New(agent.Options{
		Embedder:         r.embedder,
		Generator:        r.generator,
		Index:            index,
		TemplateID:       r.cfg.Retrieval.PromptTemplate,
		TopK:             r.cfg.Retrieval.K,
		MaxContextTokens: r.cfg.Retrieval.MaxContextTokens,
		Logger:           r.logger,
	})
	if err != nil {
		return nil, err
	}
	return &session{index: index, engine: engine}, nil
}

// embedChunks embeds in batches with bounded concurrency, keeping order.
func (r *Registry) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	size := max(1, r.cfg.Ingest.EmbedBatchSize)
	out := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Ingest.EmbedConcurrency))
	for lo := 0; lo < len(chunks); lo += size {
		hi := min(lo+size, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, hi-lo)
			for _, ch := range chunks[lo:hi] {
				texts = append(texts, ch.Content)
			}
			vecs, err := r.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				if types.KindOf(err) == nil {
					err = types.ProviderErr("embed chunks", err)
				}
				return err
			}
			if len(vecs) != len(texts) {
				return types.Validationf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// discard releases a half-built session's storage. Failures are logged; the
// original error is what the caller sees.
func (r *Registry) discard(id string, index store.VectorIndex) {
	logger := r.logger.With("document_id", id)
	if err := index.Close(); err != nil {
		logger.Warn("closing discarded index", "err", err)
	}
	if err := r.purge(context.Background(), id); err != nil {
		logger.Warn("purging discarded index", "err", err)
	}
}

func (r *Registry) purge(ctx context.Context, id string) error {
	if err := r.backend.Purge(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(r.documentDir(id)); err != nil && !isNotExist(err) {
		return types.StorageErr("remove document directory", err)
	}
	return nil
}

func (r *Registry) lookup(id string) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NotFoundf("document %s", id)
	}
	return s, nil
}

// RouteQuery answers question against the document's own index.
func (r *Registry) RouteQuery(ctx context.Context, id, question string) (types.QueryResult, error) {
	s, err := r.lookup(id)
	if err != nil {
		return types.QueryResult{}, err
	}
	res, err := s.answer(ctx, question)
	if err != nil {
		return types.QueryResult{}, types.Classify(err)
	}
	res = res.WithMetadata(map[string]string{
		types.MetaDocumentID: s.meta.DocumentID,
		types.MetaFilename:   s.meta.Filename,
	})
	res.QuestionID = uuid.NewString()
	res.AskedAt = time.Now().UTC()
	return res, nil
}

// Delete unregisters the document, waits for its running queries and
// removes its storage. Storage already removed out of band is fine.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return types.NotFoundf("document %s", id)
	}

	if err := s.close(); err != nil {
		r.logger.Warn("closing index", "document_id", id, "err", err)
	}
	if err := r.purge(ctx, id); err != nil {
		return types.Classify(err)
	}
	r.logger.Info("document deleted", "document_id", id, "filename", s.meta.Filename)
	return nil
}

func (r *Registry) Get(id string) (types.DocumentMetadata, error) {
	s, err := r.lookup(id)
	if err != nil {
		return types.DocumentMetadata{}, err
	}
	return s.meta, nil
}

// List returns every registered document ordered by upload time, then id.
func (r *Registry) List() []types.DocumentMetadata {
	r.mu.RLock()
	out := make([]types.DocumentMetadata, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.meta)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.DocumentMetadata) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
	return out
}

// Restore re-attaches documents persisted by an earlier run. Directories
// without a manifest, written by another backend or embedder, or whose
// index cannot be loaded are skipped with a warning.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.cfg.VectorStore.Path)
	if isNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, types.StorageErr("scan vector store path", err)
	}

	restored := 0
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		ok, err := r.restoreOne(ctx, e.Name())
		if err != nil {
			r.logger.Warn("skipping stored document", "dir", e.Name(), "err", err)
			continue
		}
		if ok {
			restored++
		}
	}
	r.logger.Info("documents restored", "count", restored)
	return restored, nil
}

func (r *Registry) restoreOne(ctx context.Context, name string) (bool, error) {
	m, err := readManifest(r.documentDir(name))
	if isNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.DocumentID != name {
		return false, types.Validationf("manifest id %s does not match directory", m.DocumentID)
	}
	if m.Backend != string(r.backend.Kind()) {
		return false, types.Validationf("stored with backend %s, running %s", m.Backend, r.backend.Kind())
	}
	if m.Embedder != r.embedder.Name() {
		return false, types.Validationf("stored with embedder %s, running %s", m.Embedder, r.embedder.Name())
	}

	r.mu.RLock()
	_, exists := r.sessions[m.DocumentID]
	r.mu.RUnlock()
	if exists {
		return false, nil
	}

	index, err := r.backend.Open(m.DocumentID)
	if err != nil {
		return false, err
	}
	found, err := index.LoadExisting(ctx)
	if err != nil || !found {
		index.Close()
		if err == nil {
			err = types.NotFoundf("no index data")
		}
		return false, err
	}
	sess, err := r.bind(index)
	if err != nil {
		index.Close()
		return false, err
	}
	sess.meta = m.DocumentMetadata

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[m.DocumentID]; exists {
		index.Close()
		return false, nil
	}
	r.sessions[m.DocumentID] = sess
	return true, nil
}

// Close releases every session without deleting stored data.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
