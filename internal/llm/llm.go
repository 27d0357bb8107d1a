// Package llm talks to the completion model that answers chat turns and writes
// conversation summaries.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// Request is one completion call. Messages are sent in order; system messages are
// folded into the backend's system slot where it has one.
type Request struct {
	Messages    []domain.Message
	Temperature float64
	MaxTokens   int
}

// Completion is the model output plus the token usage the backend reported.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider produces completions. Transport failures and non-2xx responses wrap
// domain.ErrProviderUnavailable.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"

	DefaultMaxTokens = 1024
)

// Config selects the completion backend.
type Config struct {
	Backend string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New builds the configured completion backend.
func New(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case BackendOllama, "":
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case BackendAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: anthropic API key is required", domain.ErrInvalidInput)
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown completion backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, fmt.Sprintf(format, args...))
}
