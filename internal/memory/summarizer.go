package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/llm"
	"github.com/MikeSquared-Agency/surveyor/internal/tokens"
)

const (
	turnCharLimit       = 200
	summaryOutputTokens = 200
	fallbackSentences   = 4
)

const summarizerSystemPrompt = "You are a conversation summarizer. Be concise."

// Summarizer compresses older turns into one bounded paragraph. It asks the completion
// model when one is configured and falls back to extractive summarization otherwise.
type Summarizer struct {
	llm      llm.Provider
	fallback *FrequencySummarizer
	maxWords int
	maxTok   int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer. provider may be nil.
func NewSummarizer(provider llm.Provider, limits Limits, logger *slog.Logger) *Summarizer {
	limits = limits.withDefaults()
	return &Summarizer{
		llm:      provider,
		fallback: NewFrequencySummarizer(),
		maxWords: limits.MaxSummaryWords,
		maxTok:   limits.MaxSummaryTokens,
		timeout:  limits.SummarizeTimeout,
		logger:   logger,
	}
}

// Summarize folds turns into existing. With no turns the existing summary is returned
// unchanged. The result never exceeds the word or token ceilings.
func (s *Summarizer) Summarize(ctx context.Context, turns []domain.Turn, existing string) (string, error) {
	if len(turns) == 0 {
		return existing, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if s.llm != nil {
		out, err := s.complete(ctx, turns, existing)
		if err == nil && strings.TrimSpace(out.Text) != "" {
			return s.clamp(out.Text), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("model summarization failed, using extractive fallback", "error", err)
	}

	var b strings.Builder
	if existing != "" {
		b.WriteString(ensureSentence(existing))
		b.WriteString(" ")
	}
	for _, t := range turns {
		b.WriteString(ensureSentence(t.Content))
		b.WriteString(" ")
	}
	summary, err := s.fallback.Summarize(b.String(), fallbackSentences)
	if err != nil {
		return "", fmt.Errorf("extractive summary: %w", err)
	}
	return s.clamp(summary), nil
}

// complete asks the model for a summary under the summarizer's own deadline, which is
// independent of the caller's.
func (s *Summarizer) complete(ctx context.Context, turns []domain.Turn, existing string) (llm.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.llm.Complete(ctx, llm.Request{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: summarizerSystemPrompt},
			{Role: domain.RoleUser, Content: buildPrompt(turns, existing, s.maxWords)},
		},
		MaxTokens: summaryOutputTokens,
	})
}

func buildPrompt(turns []domain.Turn, existing string, maxWords int) string {
	var conv strings.Builder
	for _, t := range turns {
		role := "Assistant"
		if t.Role == domain.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&conv, "%s: %s\n", role, cutRunes(t.Content, turnCharLimit))
	}

	var prompt strings.Builder
	if existing != "" {
		fmt.Fprintf(&prompt, "Previous context: %s\n\n", existing)
	}
	fmt.Fprintf(&prompt, "Summarize this conversation in ONE paragraph (max %d words). Focus on key topics discussed and any decisions made:\n\n", maxWords)
	prompt.WriteString(conv.String())
	prompt.WriteString("\nSummary:")
	return prompt.String()
}

// clamp collapses whitespace into one paragraph and enforces both ceilings.
func (s *Summarizer) clamp(text string) string {
	words := strings.Fields(text)
	if len(words) > s.maxWords {
		words = words[:s.maxWords]
	}
	out := strings.Join(words, " ")
	if tokens.Estimate(out) > s.maxTok {
		out = tokens.Truncate(out, s.maxTok)
	}
	return out
}

func ensureSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

func cutRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
