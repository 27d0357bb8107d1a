package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// ReplaceDocumentChunks deletes every chunk of docID and inserts chunks in one
// transaction. On failure the previous set is left untouched.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, docID uuid.UUID, chunks []domain.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(metadataOrEmpty(c.Metadata))
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, chunk_index, chunk_text, token_count, embedding, chunk_metadata, oversized)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, docID, c.Index, c.Text, c.TokenCount, vectorParam(c.Embedding), meta, c.Oversized,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SearchChunks returns up to k chunks nearest to vec under the store's metric,
// closest first. Chunks without an embedding are never returned.
func (s *Store) SearchChunks(ctx context.Context, vec []float32, filter domain.ChunkFilter, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	args := []any{pgvector.NewVector(vec)}
	where := "embedding IS NOT NULL"
	if len(filter.DocumentIDs) > 0 {
		ids := make([]string, len(filter.DocumentIDs))
		for i, id := range filter.DocumentIDs {
			ids[i] = id.String()
		}
		args = append(args, ids)
		where += fmt.Sprintf(" AND document_id = ANY($%d::uuid[])", len(args))
	}
	if filter.SectionType != "" {
		args = append(args, filter.SectionType)
		where += fmt.Sprintf(" AND chunk_metadata->>'section_type' = $%d", len(args))
	}
	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, chunk_text, token_count, embedding::text, chunk_metadata, oversized, created_at,
		       embedding %[1]s $1 AS distance
		FROM document_chunks
		WHERE %[2]s
		ORDER BY embedding %[1]s $1
		LIMIT $%[3]d`, s.metric.Operator(), where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var sc domain.ScoredChunk
		var emb *string
		var meta []byte
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.Index, &sc.Text, &sc.TokenCount, &emb, &meta, &sc.Oversized, &sc.CreatedAt, &sc.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := decodeChunk(&sc.Chunk, emb, meta); err != nil {
			return nil, err
		}
		sc.Score = s.metric.Score(sc.Distance)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// DeleteDocumentChunks removes every chunk of docID and returns how many were deleted.
func (s *Store) DeleteDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, docID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ListChunks returns the chunks of docID ordered by index.
func (s *Store) ListChunks(ctx context.Context, docID uuid.UUID) ([]domain.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, document_id, chunk_index, chunk_text, token_count, embedding::text, chunk_metadata, oversized, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, docID)
}

// ListUnembeddedChunks returns up to limit chunks whose embedding is NULL, oldest first.
func (s *Store) ListUnembeddedChunks(ctx context.Context, limit int) ([]domain.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, document_id, chunk_index, chunk_text, token_count, embedding::text, chunk_metadata, oversized, created_at
		FROM document_chunks
		WHERE embedding IS NULL
		ORDER BY created_at, document_id, chunk_index
		LIMIT $1`, limit)
}

// SetChunkEmbedding fills in the embedding of one chunk.
func (s *Store) SetChunkEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32) error {
	tag, err := s.pool.Exec(ctx, `UPDATE document_chunks SET embedding = $1 WHERE id = $2`, pgvector.NewVector(vec), chunkID)
	if err != nil {
		return fmt.Errorf("set chunk embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var emb *string
		var meta []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.TokenCount, &emb, &meta, &c.Oversized, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := decodeChunk(&c, emb, meta); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func decodeChunk(c *domain.Chunk, emb *string, meta []byte) error {
	if emb != nil {
		var v pgvector.Vector
		if err := v.Scan(*emb); err != nil {
			return fmt.Errorf("parse embedding: %w", err)
		}
		c.Embedding = v.Slice()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return fmt.Errorf("decode chunk metadata: %w", err)
		}
	}
	return nil
}

// vectorParam maps a missing embedding to SQL NULL.
func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
