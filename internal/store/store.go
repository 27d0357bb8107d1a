// Package store persists document chunks and conversation memory in Postgres with pgvector.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

type Store struct {
	pool   *pgxpool.Pool
	metric domain.Metric
}

// New connects to Postgres. The metric is fixed for the lifetime of the store.
func New(ctx context.Context, databaseURL string, metric domain.Metric) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if metric == "" {
		metric = domain.MetricCosine
	}
	return &Store{pool: pool, metric: metric}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Metric() domain.Metric { return s.metric }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the extension, tables and indexes the service needs. dims is the
// embedding width of the configured provider.
func (s *Store) Migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive", domain.ErrInvalidInput)
	}
	opclass := "vector_cosine_ops"
	if s.metric == domain.MetricL2 {
		opclass = "vector_l2_ops"
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS document_chunks (
			id             UUID PRIMARY KEY,
			document_id    UUID NOT NULL,
			chunk_index    INTEGER NOT NULL,
			chunk_text     TEXT NOT NULL,
			token_count    INTEGER NOT NULL,
			embedding      vector(%d),
			chunk_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			oversized      BOOLEAN NOT NULL DEFAULT false,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)`, dims),
		`CREATE INDEX IF NOT EXISTS document_chunks_document_idx ON document_chunks (document_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx ON document_chunks USING hnsw (embedding %s)`, opclass),
		`
		CREATE TABLE IF NOT EXISTS chat_memory (
			session_id        UUID PRIMARY KEY,
			user_id           UUID NOT NULL,
			project_id        UUID,
			summary_memory    TEXT,
			turn_count        INTEGER NOT NULL DEFAULT 0,
			last_summary_turn INTEGER NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (last_summary_turn <= turn_count)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
