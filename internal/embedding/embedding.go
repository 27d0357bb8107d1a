// Package embedding turns text spans into fixed-length vectors.
//
// Backends (a local Ollama inference service or a remote OpenAI-compatible API) sit
// behind Provider; which one is active is decided once, by New, from configuration.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// Provider generates embeddings. Failures to reach the backend wrap
// domain.ErrProviderUnavailable.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order. Backends without a batch API loop over Embed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector length the backend produces.
	Dimensions() int

	// Model names the embedding model.
	Model() string
}

// Backend names accepted by New.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// RateLimit caps calls per second across the returned provider; 0 disables it.
	RateLimit float64
	Burst     int
}

// New builds the configured backend, wrapped in a rate limiter when requested.
func New(cfg Config) (Provider, error) {
	var p Provider
	switch cfg.Backend {
	case BackendOllama, "":
		p = NewOllama(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case BackendOpenAI:
		op, err := NewOpenAI(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		p = op
	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", domain.ErrInvalidInput, cfg.Backend)
	}

	if cfg.RateLimit > 0 {
		p = NewRateLimited(p, cfg.RateLimit, cfg.Burst)
	}
	return p, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, fmt.Sprintf(format, args...))
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
