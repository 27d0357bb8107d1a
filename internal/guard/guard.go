// Package guard enforces per-request ceilings on chunks, attachments and tokens.
//
// A Guard is created for one logical request and charged by every stage that consumes
// a resource. The first charge that pushes a counter above its ceiling fails the guard
// for the rest of the request.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

type Dimension string

const (
	Chunks      Dimension = "chunks"
	Attachments Dimension = "attachments"
	Tokens      Dimension = "tokens"
)

// WarnRatio is the share of a limit above which usage is logged as a warning.
const WarnRatio = 0.8

type Limits struct {
	Chunks      int `yaml:"max_chunks" json:"max_chunks"`
	Attachments int `yaml:"max_attachments" json:"max_attachments"`
	Tokens      int `yaml:"max_tokens" json:"max_tokens"`
}

func DefaultLimits() Limits {
	return Limits{Chunks: 8, Attachments: 5, Tokens: 8000}
}

func (l Limits) of(d Dimension) int {
	switch d {
	case Chunks:
		return l.Chunks
	case Attachments:
		return l.Attachments
	default:
		return l.Tokens
	}
}

// Usage is a snapshot of the counters.
type Usage struct {
	Chunks      int `json:"chunks"`
	Attachments int `json:"attachments"`
	Tokens      int `json:"tokens"`
}

func (u Usage) of(d Dimension) int {
	switch d {
	case Chunks:
		return u.Chunks
	case Attachments:
		return u.Attachments
	default:
		return u.Tokens
	}
}

// Near returns the dimensions whose usage is above WarnRatio of its limit.
func (u Usage) Near(l Limits) []Dimension {
	var out []Dimension
	for _, d := range []Dimension{Chunks, Attachments, Tokens} {
		if lim := l.of(d); lim > 0 && float64(u.of(d)) > float64(lim)*WarnRatio {
			out = append(out, d)
		}
	}
	return out
}

// LimitExceededError reports which ceiling was crossed and by how much.
type LimitExceededError struct {
	Dimension Dimension
	Limit     int
	Used      int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Dimension, e.Used, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool { return target == domain.ErrLimitExceeded }

// Over is how far the counter went past the limit.
func (e *LimitExceededError) Over() int { return e.Used - e.Limit }

type Guard struct {
	limits Limits

	mu    sync.Mutex
	usage Usage
	err   error
}

// New creates a guard. Zero limits fall back to DefaultLimits.
func New(limits Limits) *Guard {
	d := DefaultLimits()
	if limits.Chunks <= 0 {
		limits.Chunks = d.Chunks
	}
	if limits.Attachments <= 0 {
		limits.Attachments = d.Attachments
	}
	if limits.Tokens <= 0 {
		limits.Tokens = d.Tokens
	}
	return &Guard{limits: limits}
}

func (g *Guard) Limits() Limits { return g.limits }

// Charge adds to the counters. Reaching a ceiling exactly is allowed; going above it
// returns a *LimitExceededError, and every later Charge returns the same error.
func (g *Guard) Charge(chunks, attachments, tokens int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return g.err
	}
	if chunks < 0 || attachments < 0 || tokens < 0 {
		return fmt.Errorf("%w: negative charge", domain.ErrInvalidInput)
	}

	g.usage.Chunks += chunks
	g.usage.Attachments += attachments
	g.usage.Tokens += tokens

	for _, d := range []Dimension{Chunks, Attachments, Tokens} {
		if used, lim := g.usage.of(d), g.limits.of(d); used > lim {
			g.err = &LimitExceededError{Dimension: d, Limit: lim, Used: used}
			return g.err
		}
	}
	return nil
}

// Checkpoint returns the current counters and the sticky error, if any.
func (g *Guard) Checkpoint() (Usage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage, g.err
}

type ctxKey struct{}

func NewContext(ctx context.Context, g *Guard) context.Context {
	return context.WithValue(ctx, ctxKey{}, g)
}

// FromContext returns the request's guard, or nil.
func FromContext(ctx context.Context) *Guard {
	g, _ := ctx.Value(ctxKey{}).(*Guard)
	return g
}
