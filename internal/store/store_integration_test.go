//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

const testDims = 3

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL, domain.MetricCosine)
	require.NoError(t, err, "connect")
	require.NoError(t, s.Migrate(ctx, testDims), "migrate")

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testChunks(docID uuid.UUID, n int, section string) []domain.Chunk {
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = domain.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Index:      i,
			Text:       "chunk text",
			TokenCount: 3,
			Embedding:  []float32{float32(i + 1), 1, 0},
			Metadata:   map[string]any{domain.MetaSectionType: section},
		}
	}
	return out
}

func TestIntegration_ReplaceDocumentChunks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	docID := uuid.New()
	t.Cleanup(func() { s.DeleteDocumentChunks(ctx, docID) })

	require.NoError(t, s.ReplaceDocumentChunks(ctx, docID, testChunks(docID, 5, "roof")), "first ingest")
	require.NoError(t, s.ReplaceDocumentChunks(ctx, docID, testChunks(docID, 2, "roof")), "second ingest")

	n, err := s.CountDocumentChunks(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "chunks after re-ingest")

	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.Embedding, testDims)
		assert.Equal(t, "roof", c.Metadata[domain.MetaSectionType], "metadata not round-tripped")
	}
}

func TestIntegration_ReplaceDocumentChunksRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	docID := uuid.New()
	t.Cleanup(func() { s.DeleteDocumentChunks(ctx, docID) })

	require.NoError(t, s.ReplaceDocumentChunks(ctx, docID, testChunks(docID, 3, "roof")))

	// The third insert collides on (document_id, chunk_index) after the delete and two
	// inserts have already run inside the transaction.
	bad := testChunks(docID, 4, "damp")
	bad[2].Index = 1
	require.Error(t, s.ReplaceDocumentChunks(ctx, docID, bad))

	n, err := s.CountDocumentChunks(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "previous chunks must survive a failed replace")

	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, "roof", c.Metadata[domain.MetaSectionType])
	}
}

func TestIntegration_SearchSkipsNullEmbeddings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	docID := uuid.New()
	t.Cleanup(func() { s.DeleteDocumentChunks(ctx, docID) })

	chunks := testChunks(docID, 3, "damp")
	chunks[1].Embedding = nil
	require.NoError(t, s.ReplaceDocumentChunks(ctx, docID, chunks))

	hits, err := s.SearchChunks(ctx, []float32{1, 1, 0}, domain.ChunkFilter{DocumentIDs: []uuid.UUID{docID}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for i, h := range hits {
		assert.NotEqual(t, 1, h.Index, "chunk without embedding was returned")
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score, "hits not sorted by descending score")
		}
	}

	hits, err = s.SearchChunks(ctx, []float32{1, 1, 0}, domain.ChunkFilter{DocumentIDs: []uuid.UUID{docID}, SectionType: "roof"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "other section type")

	pending, err := s.ListUnembeddedChunks(ctx, 100)
	require.NoError(t, err)
	var found bool
	for _, c := range pending {
		if c.DocumentID == docID {
			found = true
			require.NoError(t, s.SetChunkEmbedding(ctx, c.ID, []float32{0, 0, 1}))
		}
	}
	require.True(t, found, "unembedded chunk not listed")
	assert.ErrorIs(t, s.SetChunkEmbedding(ctx, uuid.New(), []float32{0, 0, 1}), domain.ErrNotFound)
}

func TestIntegration_UpdateMemorySerializes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := domain.MemoryKey{SessionID: uuid.New(), UserID: uuid.New()}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM chat_memory WHERE session_id = $1", key.SessionID)
	})

	_, err := s.GetMemory(ctx, key.SessionID)
	require.ErrorIs(t, err, domain.ErrNotFound, "before first turn")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateMemory(ctx, key, func(m *domain.ConversationMemory) error {
				m.TurnCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := s.GetMemory(ctx, key.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 10, m.TurnCount)
	assert.Nil(t, m.Summary)
}
