// Package prompt assembles the final model input under a hard token ceiling.
//
// Content is admitted in a fixed priority order: system instructions, a reservation for
// the user message, the conversation summary, retrieved chunks, then recent turns. The
// user message is always placed last. Whatever does not fit is dropped whole, except the
// system prompt and the user message, which are truncated to their sub-ceilings.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
	"github.com/MikeSquared-Agency/surveyor/internal/tokens"
)

const (
	SummaryPrefix  = "Previous conversation summary: "
	ContextHeader  = "Relevant context:\n"
	chunkSeparator = "\n---\n"
)

// Limits are the token budgets of one prompt.
type Limits struct {
	Ceiling      int `yaml:"max_prompt_tokens" json:"max_prompt_tokens"`
	SystemMax    int `yaml:"system_max_tokens" json:"system_max_tokens"`
	UserMax      int `yaml:"user_max_tokens" json:"user_max_tokens"`
	SummaryMax   int `yaml:"summary_max_tokens" json:"summary_max_tokens"`
	MaxChunks    int `yaml:"max_chunks" json:"max_chunks"`
	SafetyMargin int `yaml:"safety_margin_tokens" json:"safety_margin_tokens"`
	RecentTurns  int `yaml:"recent_turns" json:"recent_turns"`
}

func DefaultLimits() Limits {
	return Limits{
		Ceiling:      6000,
		SystemMax:    500,
		UserMax:      1000,
		SummaryMax:   300,
		MaxChunks:    8,
		SafetyMargin: 100,
		RecentTurns:  3,
	}
}

// Request is everything a prompt may be built from.
type Request struct {
	SystemPrompt string               `json:"system_prompt"`
	UserMessage  string               `json:"user_message"`
	Chunks       []domain.ScoredChunk `json:"chunks,omitempty"`
	Summary      string               `json:"summary,omitempty"`
	RecentTurns  []domain.Turn        `json:"recent_turns,omitempty"`
}

// Result is the bounded message sequence plus what made it in.
type Result struct {
	Messages        []domain.Message `json:"messages"`
	TotalTokens     int              `json:"total_tokens"`
	Truncated       bool             `json:"truncated"`
	ChunksIncluded  int              `json:"chunks_included"`
	TurnsIncluded   int              `json:"turns_included"`
	SummaryIncluded bool             `json:"summary_included"`
}

type Builder struct {
	limits Limits
}

// NewBuilder fills zero limits from DefaultLimits.
func NewBuilder(limits Limits) *Builder {
	d := DefaultLimits()
	if limits.Ceiling <= 0 {
		limits.Ceiling = d.Ceiling
	}
	if limits.SystemMax <= 0 {
		limits.SystemMax = d.SystemMax
	}
	if limits.UserMax <= 0 {
		limits.UserMax = d.UserMax
	}
	if limits.SummaryMax <= 0 {
		limits.SummaryMax = d.SummaryMax
	}
	if limits.MaxChunks <= 0 {
		limits.MaxChunks = d.MaxChunks
	}
	if limits.SafetyMargin < 0 {
		limits.SafetyMargin = 0
	}
	if limits.RecentTurns <= 0 {
		limits.RecentTurns = d.RecentTurns
	}
	return &Builder{limits: limits}
}

func (b *Builder) Limits() Limits { return b.limits }

// Build assembles req. The result always satisfies Validate(result.Messages, Ceiling).
func (b *Builder) Build(req Request) Result {
	l := b.limits
	var res Result

	system := req.SystemPrompt
	if tokens.Estimate(system) > min(l.SystemMax, l.Ceiling) {
		system = tokens.Truncate(system, min(l.SystemMax, l.Ceiling))
		res.Truncated = true
	}
	used := tokens.Estimate(system)

	user := req.UserMessage
	userMax := max(min(l.UserMax, l.Ceiling-used), 0)
	if tokens.Estimate(user) > userMax {
		user = tokens.Truncate(user, userMax)
		res.Truncated = true
	}
	remaining := l.Ceiling - used - tokens.Estimate(user)

	if system != "" {
		res.Messages = append(res.Messages, domain.Message{Role: domain.RoleSystem, Content: system})
	}

	if summary := strings.TrimSpace(req.Summary); summary != "" {
		included := false
		if remaining > l.SummaryMax {
			budget := l.SummaryMax - tokens.Estimate(SummaryPrefix)
			if tokens.Estimate(summary) > budget {
				summary = tokens.Truncate(summary, budget)
				res.Truncated = true
			}
			content := SummaryPrefix + summary
			if summary != "" && tokens.Estimate(content) <= remaining {
				res.Messages = append(res.Messages, domain.Message{Role: domain.RoleSystem, Content: content})
				remaining -= tokens.Estimate(content)
				included = true
			}
		}
		if !included {
			res.Truncated = true
		}
		res.SummaryIncluded = included
	}

	if len(req.Chunks) > 0 {
		content, n := b.contextMessage(req.Chunks, remaining-l.SafetyMargin)
		if n < len(req.Chunks) {
			res.Truncated = true
		}
		if n > 0 {
			res.Messages = append(res.Messages, domain.Message{Role: domain.RoleSystem, Content: content})
			remaining -= tokens.Estimate(content)
			res.ChunksIncluded = n
		}
	}

	window := req.RecentTurns
	if len(window) > l.RecentTurns {
		window = window[len(window)-l.RecentTurns:]
	}
	for _, t := range window {
		cost := tokens.Estimate(t.Content)
		if cost > remaining {
			res.Truncated = true
			break
		}
		res.Messages = append(res.Messages, domain.Message{Role: t.Role, Content: t.Content})
		remaining -= cost
		res.TurnsIncluded++
	}

	res.Messages = append(res.Messages, domain.Message{Role: domain.RoleUser, Content: user})
	res.TotalTokens = EstimateMessages(res.Messages)
	return res
}

// contextMessage packs chunks in rank order into one message no larger than budget.
// A chunk that does not fit ends the packing; chunks are never split.
func (b *Builder) contextMessage(chunks []domain.ScoredChunk, budget int) (string, int) {
	var sb strings.Builder
	sb.WriteString(ContextHeader)
	n := 0
	for _, c := range chunks {
		if n == b.limits.MaxChunks {
			break
		}
		piece := chunkSeparator + c.Text + "\n"
		if tokens.Estimate(sb.String()+piece) > budget {
			break
		}
		sb.WriteString(piece)
		n++
	}
	return sb.String(), n
}

// EstimateMessages sums the token estimate of every message's content.
func EstimateMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokens.Estimate(m.Content)
	}
	return total
}

// Validate recomputes the size of msgs and fails when it exceeds ceiling.
func Validate(msgs []domain.Message, ceiling int) error {
	if total := EstimateMessages(msgs); total > ceiling {
		return fmt.Errorf("%w: prompt is %d tokens, ceiling is %d", domain.ErrLimitExceeded, total, ceiling)
	}
	return nil
}
