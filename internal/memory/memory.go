// Package memory keeps a chat session's history bounded: older turns are folded into
// a running summary every few turns and only the most recent turns are passed on.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/keylock"
)

const (
	SummarizeEveryNTurns = 5
	InjectLastNTurns     = 3
	MaxSummaryWords      = 100
	MaxSummaryTokens     = 500

	// DefaultSummarizeTimeout bounds the model call made while the session row is locked.
	DefaultSummarizeTimeout = 20 * time.Second
)

// Limits are the tunables of the summarization cycle.
type Limits struct {
	SummarizeEveryN  int `yaml:"summarize_every_n_turns"`
	InjectLastN      int `yaml:"inject_last_n_turns"`
	MaxSummaryWords  int `yaml:"max_summary_words"`
	MaxSummaryTokens int `yaml:"max_summary_tokens"`

	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
}

func DefaultLimits() Limits {
	return Limits{
		SummarizeEveryN:  SummarizeEveryNTurns,
		InjectLastN:      InjectLastNTurns,
		MaxSummaryWords:  MaxSummaryWords,
		MaxSummaryTokens: MaxSummaryTokens,
		SummarizeTimeout: DefaultSummarizeTimeout,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.SummarizeEveryN <= 0 {
		l.SummarizeEveryN = d.SummarizeEveryN
	}
	if l.InjectLastN <= 0 {
		l.InjectLastN = d.InjectLastN
	}
	if l.MaxSummaryWords <= 0 {
		l.MaxSummaryWords = d.MaxSummaryWords
	}
	if l.MaxSummaryTokens <= 0 {
		l.MaxSummaryTokens = d.MaxSummaryTokens
	}
	if l.SummarizeTimeout <= 0 {
		l.SummarizeTimeout = d.SummarizeTimeout
	}
	return l
}

// ShouldSummarize reports whether at least every turns have passed since the last
// summarization.
func ShouldSummarize(m domain.ConversationMemory, every int) bool {
	return m.TurnCount-m.LastSummaryTurn >= every
}

// Store persists memory records with an atomic read-modify-write.
type Store interface {
	UpdateMemory(ctx context.Context, key domain.MemoryKey, fn func(*domain.ConversationMemory) error) (domain.ConversationMemory, error)
}

// BoundedContext is what a chat turn gets to see of its history.
type BoundedContext struct {
	Summary     string        `json:"summary"`
	RecentTurns []domain.Turn `json:"messages"`
	TotalTurns  int           `json:"total_turns"`
	Summarized  bool          `json:"summarized"`
}

// Manager owns the per-session summarization cycle.
type Manager struct {
	store      Store
	summarizer *Summarizer
	limits     Limits
	locks      *keylock.Map[uuid.UUID]
	logger     *slog.Logger
}

func NewManager(s Store, sum *Summarizer, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		store:      s,
		summarizer: sum,
		limits:     limits.withDefaults(),
		locks:      keylock.New[uuid.UUID](),
		logger:     logger,
	}
}

func (m *Manager) Limits() Limits { return m.limits }

// GetBoundedContext counts one turn for the session and returns its summary plus the
// last InjectLastN of recentTurns (ordered oldest to newest). When the summarization
// interval has elapsed and there are older turns to fold, the summary is replaced
// first. The whole transition is atomic per session.
func (m *Manager) GetBoundedContext(ctx context.Context, sessionID, userID uuid.UUID, recentTurns []domain.Turn, projectID *uuid.UUID) (BoundedContext, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	keep := m.limits.InjectLastN
	var summarized bool

	key := domain.MemoryKey{SessionID: sessionID, UserID: userID, ProjectID: projectID}
	mem, err := m.store.UpdateMemory(ctx, key, func(mem *domain.ConversationMemory) error {
		mem.TurnCount++
		if !ShouldSummarize(*mem, m.limits.SummarizeEveryN) || len(recentTurns) <= keep {
			return nil
		}

		older := recentTurns[:len(recentTurns)-keep]
		summary, err := m.summarizer.Summarize(ctx, older, mem.SummaryText())
		if err != nil {
			return fmt.Errorf("summarize session %s: %w", sessionID, err)
		}
		mem.Summary = &summary
		mem.LastSummaryTurn = mem.TurnCount
		summarized = true
		return nil
	})
	if err != nil {
		return BoundedContext{}, fmt.Errorf("update memory: %w", err)
	}

	if summarized {
		m.logger.Info("conversation summarized",
			"session_id", sessionID,
			"turn_count", mem.TurnCount,
			"summary_words", countWords(mem.SummaryText()),
		)
	}

	recent := recentTurns
	if len(recent) > keep {
		recent = recent[len(recent)-keep:]
	}
	return BoundedContext{
		Summary:     mem.SummaryText(),
		RecentTurns: append([]domain.Turn(nil), recent...),
		TotalTurns:  mem.TurnCount,
		Summarized:  summarized,
	}, nil
}
