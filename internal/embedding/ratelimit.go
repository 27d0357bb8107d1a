package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying provider so bursts of chunk embeddings
// do not overwhelm the backend.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

var _ Provider = (*RateLimited)(nil)

// NewRateLimited allows perSecond calls with the given burst (minimum 1).
func NewRateLimited(next Provider, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Embed(ctx, text)
}

// EmbedBatch charges one token per text, capped at the burst size.
func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := len(texts)
	if n > r.limiter.Burst() {
		n = r.limiter.Burst()
	}
	if n > 0 {
		if err := r.limiter.WaitN(ctx, n); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return r.next.EmbedBatch(ctx, texts)
}

func (r *RateLimited) Dimensions() int { return r.next.Dimensions() }

func (r *RateLimited) Model() string { return r.next.Model() }
