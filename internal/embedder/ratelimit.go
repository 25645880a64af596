package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Embedder with a token bucket. Each provider call
// consumes one token; batch calls consume one token per request, not per text.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited limits next to perSecond calls with the given burst.
// A non-positive perSecond returns next unchanged.
func NewRateLimited(next Embedder, perSecond float64, burst int) Embedder {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		Embedder: next,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.Embedder.GenerateEmbedding(ctx, req)
}

func (r *RateLimited) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.Embedder.GenerateBatch(ctx, req)
}
