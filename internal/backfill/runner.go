// Package backfill embeds stored chunks whose embedding is missing, typically because
// the provider was down during ingestion.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/embedding"
)

const (
	DefaultBatchSize   = 100
	defaultConcurrency = 4
	maxEmbedChars      = 2000
)

// Store is the chunk access the runner needs.
type Store interface {
	ListUnembeddedChunks(ctx context.Context, limit int) ([]domain.Chunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32) error
}

// Report summarizes one run.
type Report struct {
	Scanned  int   `json:"scanned"`
	Embedded int   `json:"embedded"`
	Failed   int   `json:"failed"`
	Duration int64 `json:"duration_ms"`
}

// Runner pages through unembedded chunks and fills them in.
type Runner struct {
	store       Store
	embedder    embedding.Provider
	concurrency int
	logger      *slog.Logger
}

// NewRunner creates a backfill runner. concurrency <= 0 uses the default.
func NewRunner(s Store, e embedding.Provider, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Runner{store: s, embedder: e, concurrency: concurrency, logger: logger}
}

// Run processes batches until no unembedded chunk is left or a whole batch fails.
// Per-chunk failures are counted, never fatal.
func (r *Runner) Run(ctx context.Context, batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	var rep Report
	seen := make(map[uuid.UUID]bool)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("backfill interrupted", "embedded", rep.Embedded, "failed", rep.Failed)
			rep.Duration = time.Since(start).Milliseconds()
			return rep, ctx.Err()
		default:
		}

		batch, err := r.store.ListUnembeddedChunks(ctx, batchSize+len(seen))
		if err != nil {
			return rep, fmt.Errorf("list unembedded chunks: %w", err)
		}

		// Chunks that already failed in this run stay NULL; skip them so the loop ends.
		var todo []domain.Chunk
		for _, c := range batch {
			if !seen[c.ID] && len(todo) < batchSize {
				todo = append(todo, c)
			}
		}
		if len(todo) == 0 {
			break
		}

		embedded, failed := r.embedBatch(ctx, todo)
		for _, c := range todo {
			seen[c.ID] = true
		}
		rep.Scanned += len(todo)
		rep.Embedded += embedded
		rep.Failed += failed

		r.logger.Info("backfill batch complete",
			"batch", len(todo),
			"embedded", embedded,
			"failed", failed,
		)

		if embedded == 0 {
			break
		}
	}

	rep.Duration = time.Since(start).Milliseconds()
	r.logger.Info("backfill complete",
		"scanned", rep.Scanned,
		"embedded", rep.Embedded,
		"failed", rep.Failed,
		"duration_ms", rep.Duration,
	)
	return rep, nil
}

func (r *Runner) embedBatch(ctx context.Context, chunks []domain.Chunk) (int, int) {
	var embedded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			text := c.Text
			if runes := []rune(text); len(runes) > maxEmbedChars {
				text = string(runes[:maxEmbedChars])
			}
			vec, err := r.embedder.Embed(gctx, text)
			if err == nil && len(vec) != r.embedder.Dimensions() {
				err = fmt.Errorf("expected %d dimensions, got %d", r.embedder.Dimensions(), len(vec))
			}
			if err == nil {
				err = r.store.SetChunkEmbedding(gctx, c.ID, vec)
			}
			if err != nil {
				failed.Add(1)
				r.logger.Warn("backfill chunk failed", "chunk_id", c.ID, "document_id", c.DocumentID, "error", err)
				return nil
			}
			embedded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(embedded.Load()), int(failed.Load())
}
