package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/cache"
	"github.com/ppiankov/promiselink/internal/decide"
	"github.com/ppiankov/promiselink/internal/llm"
	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/match"
	"github.com/ppiankov/promiselink/internal/metrics"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/normalize"
	"github.com/ppiankov/promiselink/internal/pipeline"
	"github.com/ppiankov/promiselink/internal/store"
	"github.com/ppiankov/promiselink/internal/validate"
	"github.com/ppiankov/promiselink/internal/worker"
)

// app holds what every command needs: config, logger and an open store
type app struct {
	cfg     model.Config
	log     *zap.Logger
	store   *store.GormStore
	metrics *metrics.Metrics
	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store, log.Named("store"))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		metrics: metrics.New(nil),
		closers: []io.Closer{st},
	}, nil
}

// Close releases the store and any cache connections
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// buildPipeline wires the embedder (behind the cache), the classifier (behind
// the limiter), the decision engine and the generator into a pipeline
func (a *app) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg := a.cfg

	// One limiter for the run: the classifier waits on its provider key and
	// the embedder on its own key with its own interval
	limiter := worker.NewLimiter(cfg.Validator.MinInterval)

	embedder, err := llm.NewEmbedder(ctx, llm.EmbeddingConfig(cfg.Embedding, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if embedder != nil {
		limiter.SetInterval(llm.EmbedderLimitKey(embedder.Name()), cfg.Embedding.MinInterval, 1)
		embedder = llm.NewLimitedEmbedder(embedder, limiter)

		c, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		if closer, ok := c.(io.Closer); ok {
			a.closers = append(a.closers, closer)
		}
		embedder = llm.NewCachedEmbedder(embedder, c, cfg.Cache.TTL, a.metrics, a.log.Named("embed"))
	} else {
		a.log.Warn("no embedding provider configured, ranking by keywords only")
	}

	departments := normalize.NewDepartmentTable(cfg.Matching.Departments)
	normalizer := normalize.New(departments, cfg.Matching.MaxTextLength)
	generator := match.NewGenerator(normalizer, embedder, match.OptionsFromConfig(cfg.Matching), a.log.Named("match"))

	table, err := decide.NewThresholdTable(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	classifier, err := llm.NewClassifier(ctx, llm.ClassifierConfig(cfg.Classifier, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("classifier provider: %w", err)
	}

	var engine *decide.Engine
	if classifier != nil {
		v, err := validate.NewValidator(classifier, limiter,
			validate.OptionsFromConfig(cfg.Validator, cfg.Classifier), a.metrics, a.log.Named("validate"))
		if err != nil {
			return nil, err
		}
		engine = decide.NewEngine(table, v, v.MaxCallsPerEvidence(), a.metrics, a.log.Named("decide"))
	} else {
		a.log.Warn("no classifier configured, borderline candidates will be rejected")
		engine = decide.NewEngine(table, nil, 0, a.metrics, a.log.Named("decide"))
	}

	return pipeline.NewPipeline(a.store, generator, engine, cfg.Pipeline, a.metrics, a.log.Named("pipeline")), nil
}
