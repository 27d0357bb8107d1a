package backfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/store/memstore"
)

type stubEmbedder struct {
	failOn string
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, domain.ErrProviderUnavailable
	}
	return []float32{1, 0}, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (s stubEmbedder) Dimensions() int { return 2 }
func (s stubEmbedder) Model() string   { return "stub" }

func seed(t *testing.T, s *memstore.Store, texts ...string) uuid.UUID {
	t.Helper()
	doc := uuid.New()
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{Index: i, Text: text, TokenCount: 1}
	}
	require.NoError(t, s.ReplaceDocumentChunks(context.Background(), doc, chunks))
	return doc
}

func TestRun_EmbedsEverything(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(domain.MetricCosine)
	seed(t, s, "a", "b", "c", "d", "e")

	r := NewRunner(s, stubEmbedder{}, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rep, err := r.Run(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Scanned)
	assert.Equal(t, 5, rep.Embedded)
	assert.Zero(t, rep.Failed)

	left, err := s.ListUnembeddedChunks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_FailuresAreCountedNotFatal(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(domain.MetricCosine)
	seed(t, s, "ok one", "bad one", "ok two", "bad two")

	r := NewRunner(s, stubEmbedder{failOn: "bad"}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rep, err := r.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Scanned)
	assert.Equal(t, 2, rep.Embedded)
	assert.Equal(t, 2, rep.Failed)

	left, err := s.ListUnembeddedChunks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRun_NothingToDo(t *testing.T) {
	s := memstore.New(domain.MetricCosine)
	r := NewRunner(s, stubEmbedder{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rep, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
}

func TestRun_Cancelled(t *testing.T) {
	s := memstore.New(domain.MetricCosine)
	seed(t, s, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(s, stubEmbedder{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := r.Run(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
