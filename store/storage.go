package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docqa/types"
)

// PostgresBackend keeps every document's passages in one shared pgvector
// table, partitioned by namespace = document id.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresBackend(ctx context.Context, connStr string, logger *slog.Logger) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, types.StorageErr("connect postgres", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.StorageErr("ping postgres", err)
	}

	b := &PostgresBackend{pool: pool, logger: logger}
	if err := b.createTables(ctx); err != nil {
		pool.Close()
		return nil, types.StorageErr("create tables", err)
	}
	return b, nil
}

func (b *PostgresBackend) createTables(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS passages (
		namespace TEXT NOT NULL,
		position INT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector NOT NULL,
		PRIMARY KEY (namespace, position)
	);
	`
	_, err := b.pool.Exec(ctx, query)
	return err
}

func (b *PostgresBackend) Kind() Kind { return KindPgvector }

func (b *PostgresBackend) Open(documentID string) (VectorIndex, error) {
	if documentID == "" {
		return nil, types.Validationf("empty document id")
	}
	return &PostgresIndex{
		pool:      b.pool,
		namespace: documentID,
		logger:    b.logger.With("document_id", documentID),
	}, nil
}

func (b *PostgresBackend) Purge(ctx context.Context, documentID string) error {
	if _, err := b.pool.Exec(ctx, "DELETE FROM passages WHERE namespace = $1", documentID); err != nil {
		return types.StorageErr("purge passages", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
		b.logger.Info("postgres connection pool is closed")
	}
	return nil
}

// PostgresIndex is a view of one namespace of the passages table.
type PostgresIndex struct {
	pool      *pgxpool.Pool
	namespace string
	logger    *slog.Logger

	mu     sync.RWMutex
	dim    int
	closed bool
}

func (x *PostgresIndex) LoadExisting(ctx context.Context) (bool, error) {
	var (
		count int
		dim   *int
	)
	err := x.pool.QueryRow(ctx,
		"SELECT count(*), max(vector_dims(embedding)) FROM passages WHERE namespace = $1",
		x.namespace,
	).Scan(&count, &dim)
	if err != nil {
		return false, types.StorageErr("load passages", err)
	}
	if count == 0 {
		return false, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if dim != nil {
		x.dim = *dim
	}
	return true, nil
}

func (x *PostgresIndex) Store(ctx context.Context, chunks []types.Chunk, embeddings [][]float32) error {
	dim, err := checkBatch(chunks, embeddings)
	if err != nil {
		return err
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return types.StorageErr("begin store", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM passages WHERE namespace = $1", x.namespace); err != nil {
		return types.StorageErr("reset passages", err)
	}

	batch := &pgx.Batch{}
	for i, ch := range chunks {
		batch.Queue(
			`INSERT INTO passages (namespace, position, content, metadata, embedding) VALUES ($1, $2, $3, $4, $5)`,
			x.namespace, i, ch.Content, copyMetadata(ch.Metadata), pgvector.NewVector(embeddings[i]),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return types.StorageErr("insert passages", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.StorageErr("commit passages", err)
	}

	x.mu.Lock()
	x.dim = dim
	x.mu.Unlock()
	x.logger.Debug("passages stored", "count", len(chunks))
	return nil
}

func (x *PostgresIndex) Retrieve(ctx context.Context, query []float32, k int) ([]types.Passage, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, types.StorageErr("retrieve", errIndexClosed)
	}
	if k <= 0 || x.dim == 0 {
		return []types.Passage{}, nil
	}
	if err := checkQuery(query, x.dim); err != nil {
		return nil, err
	}

	rows, err := x.pool.Query(ctx, `
		SELECT content, metadata, 1 - (embedding <=> $2) AS score
		FROM passages
		WHERE namespace = $1
		ORDER BY embedding <=> $2, position
		LIMIT $3`,
		x.namespace, pgvector.NewVector(query), k,
	)
	if err != nil {
		return nil, types.StorageErr("query passages", err)
	}
	defer rows.Close()

	passages := []types.Passage{}
	for rows.Next() {
		var p types.Passage
		if err := rows.Scan(&p.Content, &p.Metadata, &p.Score); err != nil {
			return nil, types.StorageErr("scan passage", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageErr("query passages", err)
	}
	return passages, nil
}

func (x *PostgresIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}
