// Package retriever ingests document text into embedded chunks and answers similarity
// queries against them.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/surveyor/internal/chunker"
	"github.com/MikeSquared-Agency/surveyor/internal/dedup"
	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/embedding"
	"github.com/MikeSquared-Agency/surveyor/internal/keylock"
)

const (
	// DefaultTopK is used when Retrieve is called with k <= 0.
	DefaultTopK = 8

	// MaxEmbedChars caps the text sent to the provider for one chunk.
	MaxEmbedChars = 2000
	// MaxQueryChars caps the text sent to the provider for one query.
	MaxQueryChars = 1000

	DefaultEmbedConcurrency = 4
)

// Store is the chunk persistence the retriever needs.
type Store interface {
	ReplaceDocumentChunks(ctx context.Context, docID uuid.UUID, chunks []domain.Chunk) error
	SearchChunks(ctx context.Context, vec []float32, filter domain.ChunkFilter, k int) ([]domain.ScoredChunk, error)
	DeleteDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error)
	CountDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error)
}

// Filter narrows Retrieve to some documents or one section type.
type Filter = domain.ChunkFilter

// IngestResult reports what one ingestion stored.
type IngestResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	Chunks     int       `json:"chunks"`
	Embedded   int       `json:"embedded"`
	Oversized  int       `json:"oversized"`
}

type Retriever struct {
	store       Store
	embedder    embedding.Provider
	chunker     *chunker.Chunker
	concurrency int
	dedup       float64
	locks       *keylock.Map[uuid.UUID]
	logger      *slog.Logger
}

type Option func(*Retriever)

// WithChunker replaces the default 800/50 chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(r *Retriever) { r.chunker = c }
}

// WithConcurrency bounds parallel embedding calls during ingestion.
func WithConcurrency(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDedup collapses hits whose embeddings have a cosine similarity of at least
// threshold, keeping the best of each group. 0 turns it off.
func WithDedup(threshold float64) Option {
	return func(r *Retriever) { r.dedup = threshold }
}

func New(s Store, e embedding.Provider, logger *slog.Logger, opts ...Option) *Retriever {
	r := &Retriever{
		store:       s,
		embedder:    e,
		chunker:     chunker.New(),
		concurrency: DefaultEmbedConcurrency,
		locks:       keylock.New[uuid.UUID](),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest chunks text, embeds every chunk and replaces the document's stored chunks.
// A chunk whose embedding fails is stored without one and stays out of search
// results. Ingestions of the same document run one at a time.
func (r *Retriever) Ingest(ctx context.Context, docID uuid.UUID, text string, metadata map[string]any) (IngestResult, error) {
	unlock := r.locks.Lock(docID)
	defer unlock()

	start := time.Now()
	pieces := r.chunker.Chunk(text)
	chunks := make([]domain.Chunk, len(pieces))
	res := IngestResult{DocumentID: docID, Chunks: len(pieces)}

	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Index:      p.Index,
			Text:       p.Text,
			TokenCount: p.Tokens,
			Metadata:   copyMetadata(metadata),
			Oversized:  p.Oversized,
		}
		if p.Oversized {
			res.Oversized++
			r.logger.Warn("chunk exceeds token ceiling",
				"document_id", docID,
				"chunk_index", p.Index,
				"tokens", p.Tokens,
				"max_tokens", r.chunker.MaxTokens(),
				"error", domain.ErrOversizedChunk,
			)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range chunks {
		c := &chunks[i]
		g.Go(func() error {
			vec, err := r.embed(gctx, c.Text, MaxEmbedChars)
			if err != nil {
				// Cancellation aborts the ingestion; provider failures only degrade this chunk.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("chunk embedding failed",
					"document_id", docID,
					"chunk_index", c.Index,
					"error", err,
				)
				return nil
			}
			c.Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IngestResult{}, fmt.Errorf("embed chunks: %w", err)
	}

	for _, c := range chunks {
		if c.HasEmbedding() {
			res.Embedded++
		}
	}

	if err := r.store.ReplaceDocumentChunks(ctx, docID, chunks); err != nil {
		return IngestResult{}, fmt.Errorf("store chunks: %w", err)
	}

	r.logger.Info("document ingested",
		"document_id", docID,
		"chunks", res.Chunks,
		"embedded", res.Embedded,
		"oversized", res.Oversized,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Retrieve returns at most k chunks most similar to query, best first. k <= 0 means
// DefaultTopK. An embedding failure is returned as an error wrapping
// domain.ErrEmbeddingUnavailable, never as an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter Filter, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := r.embed(ctx, query, MaxQueryChars)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrEmbeddingUnavailable, err)
	}

	fetch := k
	if r.dedup > 0 {
		// Over-fetch so collapsed duplicates can be replaced by the next best hits.
		fetch = 2 * k
	}
	hits, err := r.store.SearchChunks(ctx, vec, filter, fetch)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	out := hits[:0]
	for _, h := range hits {
		if h.HasEmbedding() {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if r.dedup > 0 {
		res := dedup.Collapse(out, r.dedup)
		if len(res.Clusters) > 0 {
			r.logger.Debug("collapsed duplicate hits", "hits", len(out), "kept", len(res.Kept), "clusters", len(res.Clusters))
		}
		out = res.Kept
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// DeleteDocument removes every chunk of a document.
func (r *Retriever) DeleteDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	unlock := r.locks.Lock(docID)
	defer unlock()

	n, err := r.store.DeleteDocumentChunks(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}
	return n, nil
}

// Count returns the number of stored chunks of a document.
func (r *Retriever) Count(ctx context.Context, docID uuid.UUID) (int, error) {
	return r.store.CountDocumentChunks(ctx, docID)
}

func (r *Retriever) embed(ctx context.Context, text string, maxChars int) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, clip(text, maxChars))
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errors.New("provider returned an empty vector")
	}
	if d := r.embedder.Dimensions(); d > 0 && len(vec) != d {
		return nil, fmt.Errorf("expected %d dimensions, got %d", d, len(vec))
	}
	return vec, nil
}

func clip(text string, maxChars int) string {
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
