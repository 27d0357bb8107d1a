// Package memstore keeps chunks and conversation memory in process memory. It follows
// the same contract as the Postgres store and backs tests and single-node deployments.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// Store holds one arena per document. The top-level lock only guards the arena map;
// writes to different documents never contend on it for longer than a lookup.
type Store struct {
	metric domain.Metric
	now    func() time.Time

	mu     sync.RWMutex
	arenas map[uuid.UUID]*arena

	memMu    sync.Mutex
	sessions map[uuid.UUID]*session
}

type arena struct {
	mu     sync.RWMutex
	chunks []domain.Chunk
}

type session struct {
	mu  sync.Mutex
	mem domain.ConversationMemory
}

func New(metric domain.Metric) *Store {
	if metric == "" {
		metric = domain.MetricCosine
	}
	return &Store{
		metric:   metric,
		now:      time.Now,
		arenas:   make(map[uuid.UUID]*arena),
		sessions: make(map[uuid.UUID]*session),
	}
}

func (s *Store) Metric() domain.Metric { return s.metric }

func (s *Store) arena(docID uuid.UUID, create bool) *arena {
	s.mu.RLock()
	a, ok := s.arenas[docID]
	s.mu.RUnlock()
	if ok || !create {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.arenas[docID]; !ok {
		a = &arena{}
		s.arenas[docID] = a
	}
	return a
}

func (s *Store) snapshot() []*arena {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*arena, 0, len(s.arenas))
	for _, a := range s.arenas {
		out = append(out, a)
	}
	return out
}

// ReplaceDocumentChunks swaps the arena contents in one step.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, docID uuid.UUID, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	next := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = docID
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.Embedding = cloneVec(c.Embedding)
		next[i] = c
	}

	a := s.arena(docID, true)
	a.mu.Lock()
	a.chunks = next
	a.mu.Unlock()
	return nil
}

func (s *Store) SearchChunks(ctx context.Context, vec []float32, filter domain.ChunkFilter, k int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	var hits []domain.ScoredChunk
	for _, a := range s.snapshot() {
		a.mu.RLock()
		for _, c := range a.chunks {
			if !c.HasEmbedding() || len(c.Embedding) != len(vec) || !filter.Matches(c) {
				continue
			}
			d := s.metric.Distance(vec, c.Embedding)
			hits = append(hits, domain.ScoredChunk{Chunk: c, Distance: d, Score: s.metric.Score(d)})
		}
		a.mu.RUnlock()
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return lessChunk(hits[i].Chunk, hits[j].Chunk)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) DeleteDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	s.mu.Lock()
	a, ok := s.arenas[docID]
	delete(s.arenas, docID)
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks), nil
}

func (s *Store) CountDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	a := s.arena(docID, false)
	if a == nil {
		return 0, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks), nil
}

func (s *Store) ListChunks(ctx context.Context, docID uuid.UUID) ([]domain.Chunk, error) {
	a := s.arena(docID, false)
	if a == nil {
		return nil, nil
	}
	a.mu.RLock()
	out := append([]domain.Chunk(nil), a.chunks...)
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) ListUnembeddedChunks(ctx context.Context, limit int) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, a := range s.snapshot() {
		a.mu.RLock()
		for _, c := range a.chunks {
			if !c.HasEmbedding() {
				out = append(out, c)
			}
		}
		a.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return lessChunk(out[i], out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetChunkEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32) error {
	for _, a := range s.snapshot() {
		a.mu.Lock()
		for i := range a.chunks {
			if a.chunks[i].ID == chunkID {
				a.chunks[i].Embedding = cloneVec(vec)
				a.mu.Unlock()
				return nil
			}
		}
		a.mu.Unlock()
	}
	return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

func (s *Store) GetMemory(ctx context.Context, sessionID uuid.UUID) (domain.ConversationMemory, error) {
	s.memMu.Lock()
	sess, ok := s.sessions[sessionID]
	s.memMu.Unlock()
	if !ok {
		return domain.ConversationMemory{}, fmt.Errorf("memory for session %s: %w", sessionID, domain.ErrNotFound)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.mem, nil
}

// UpdateMemory applies fn under the session's lock, creating the record on first use.
// A failing fn leaves the stored state unchanged.
func (s *Store) UpdateMemory(ctx context.Context, key domain.MemoryKey, fn func(*domain.ConversationMemory) error) (domain.ConversationMemory, error) {
	s.memMu.Lock()
	sess, ok := s.sessions[key.SessionID]
	if !ok {
		sess = &session{mem: domain.ConversationMemory{
			SessionID: key.SessionID,
			UserID:    key.UserID,
			ProjectID: key.ProjectID,
			UpdatedAt: s.now(),
		}}
		s.sessions[key.SessionID] = sess
	}
	s.memMu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	m := sess.mem
	if err := fn(&m); err != nil {
		return domain.ConversationMemory{}, err
	}
	if m.LastSummaryTurn > m.TurnCount {
		return domain.ConversationMemory{}, fmt.Errorf("%w: last_summary_turn %d > turn_count %d", domain.ErrInvalidInput, m.LastSummaryTurn, m.TurnCount)
	}
	m.UpdatedAt = s.now()
	sess.mem = m
	return m, nil
}

func lessChunk(a, b domain.Chunk) bool {
	if a.DocumentID != b.DocumentID {
		return bytes.Compare(a.DocumentID[:], b.DocumentID[:]) < 0
	}
	return a.Index < b.Index
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}
