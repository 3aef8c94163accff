package llm

import (
	"context"

	"github.com/ppiankov/promiselink/internal/worker"
)

// EmbedderLimitKey is the limiter key for an embedding provider. Classifier calls
// are keyed by the bare provider name, so the two never share a quota.
func EmbedderLimitKey(provider string) string {
	return "embed/" + provider
}

// LimitedEmbedder waits on a limiter before each embedding call
type LimitedEmbedder struct {
	inner   Embedder
	limiter *worker.Limiter
	key     string
}

// NewLimitedEmbedder wraps inner. A nil limiter returns inner unchanged.
func NewLimitedEmbedder(inner Embedder, limiter *worker.Limiter) Embedder {
	if inner == nil || limiter == nil {
		return inner
	}
	return &LimitedEmbedder{inner: inner, limiter: limiter, key: EmbedderLimitKey(inner.Name())}
}

func (e *LimitedEmbedder) Name() string  { return e.inner.Name() }
func (e *LimitedEmbedder) Model() string { return e.inner.Model() }

// Embed waits for the provider's slot, then embeds
func (e *LimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx, e.key); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, texts)
}
