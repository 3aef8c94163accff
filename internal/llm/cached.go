package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/cache"
	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/metrics"
)

// CachedEmbedder serves embeddings from a cache and only sends misses upstream
type CachedEmbedder struct {
	inner   Embedder
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewCachedEmbedder wraps inner. A nil cache returns inner unchanged.
func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration, m *metrics.Metrics, log *zap.Logger) Embedder {
	if inner == nil || c == nil {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		cache:   c,
		ttl:     ttl,
		metrics: m,
		log:     logger.WithFields(log, logger.ProviderFields(inner.Name(), inner.Model())...),
	}
}

func (e *CachedEmbedder) Name() string  { return e.inner.Name() }
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Embed returns cached vectors where present and embeds the rest in one call
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		key, err := cache.EmbeddingKey(e.inner.Name(), e.inner.Model(), text)
		if err == nil {
			keys[i] = key
			if data, ok := e.cache.Get(ctx, key); ok {
				vec, err := cache.DecodeVector(data)
				if err == nil {
					out[i] = vec
					e.metrics.EmbeddingCacheLookup(true)
					continue
				}
				e.log.Warn("dropping corrupt cached embedding", zap.Error(err))
				if err := e.cache.Delete(ctx, key); err != nil {
					e.log.Warn("embedding cache delete failed", zap.Error(err))
				}
			}
		}
		e.metrics.EmbeddingCacheLookup(false)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", e.inner.Name(), len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if keys[i] == "" {
			continue
		}
		if err := e.cache.Set(ctx, keys[i], cache.EncodeVector(vecs[j]), e.ttl); err != nil {
			// A failed write only costs a re-embed next run
			e.log.Warn("embedding cache write failed", zap.Error(err))
		}
	}

	e.log.Debug("embedded texts",
		zap.Int("requested", len(texts)),
		zap.Int("cache_misses", len(missTexts)))
	return out, nil
}
