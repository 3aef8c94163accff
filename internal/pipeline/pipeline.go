package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/decide"
	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/match"
	"github.com/ppiankov/promiselink/internal/metrics"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/store"
	"github.com/ppiankov/promiselink/internal/worker"
)

var (
	// ErrEmptyCorpus aborts a run when the session has no promises to link against
	ErrEmptyCorpus = errors.New("empty promise corpus")

	// ErrCorpusEmbedding aborts a run when the promise corpus cannot be embedded
	ErrCorpusEmbedding = errors.New("promise corpus embedding failed")

	// ErrInvalidInput marks evidence records that can never be linked as stored
	ErrInvalidInput = errors.New("invalid evidence record")
)

// Store is the part of the link store a run needs
type Store interface {
	ListPromises(ctx context.Context, f store.PromiseFilter) ([]model.Promise, error)
	ListEvidence(ctx context.Context, f store.EvidenceFilter) ([]model.EvidenceItem, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, reason string) error
	CommitLinks(ctx context.Context, evidenceID string, links []model.LinkRecord) (int, error)
}

// Pipeline orchestrates one linking run: load and embed the promise corpus,
// select eligible evidence, then generate, decide and commit per item.
type Pipeline struct {
	store     Store
	generator *match.Generator
	engine    *decide.Engine
	config    model.PipelineConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewPipeline creates a pipeline over the given components
func NewPipeline(st Store, generator *match.Generator, engine *decide.Engine, cfg model.PipelineConfig, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     st,
		generator: generator,
		engine:    engine,
		config:    cfg,
		metrics:   m,
		log:       logger.OrNop(log),
		tracer:    otel.Tracer("promiselink/pipeline"),
		now:       time.Now,
	}
}

// RunOptions are the per-run controls of the link command
type RunOptions struct {
	Session string // Restrict promises and evidence to one parliament session
	Limit   int    // Max evidence items, 0 = all eligible
	Force   bool   // Also reprocess Processed items
	DryRun  bool   // Decide everything, write nothing, collect a preview
}

// Run executes one linking run. The summary is always returned, also when the
// run aborts; the error is non-nil only for corpus problems and interruption.
// Per-item failures are counted in the summary and never abort the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*model.RunSummary, error) {
	start := p.now()
	summary := &model.RunSummary{
		RunID:     uuid.NewString(),
		Session:   opts.Session,
		StartedAt: start.UTC(),
		DryRun:    opts.DryRun,
	}
	log := logger.WithFields(p.log, logger.StringFields(
		logger.StringField{Key: logger.FieldRunID, Value: summary.RunID},
		logger.StringField{Key: logger.FieldSession, Value: opts.Session},
	)...)

	if p.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RunTimeout)
		defer cancel()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.Bool("run.dry_run", opts.DryRun),
	))
	defer span.End()

	err := p.run(ctx, opts, summary, log)
	summary.Duration = p.now().Sub(start)

	switch {
	case err != nil:
		summary.Aborted = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
		p.metrics.RunFinished("aborted")
		log.Error("run aborted", zap.Error(err), zap.Duration("duration", summary.Duration))
	case opts.DryRun:
		p.metrics.RunFinished("dry_run")
	default:
		p.metrics.RunFinished("completed")
	}

	if err == nil {
		log.Info("run finished",
			zap.Int("processed", summary.EvidenceProcessed),
			zap.Int("links_created", summary.LinksCreated),
			zap.Int("validator_calls", summary.ValidatorCalls),
			zap.Int("errors", summary.Errors),
			zap.Duration("duration", summary.Duration))
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, summary *model.RunSummary, log *zap.Logger) error {
	promises, err := p.store.ListPromises(ctx, store.PromiseFilter{Session: opts.Session})
	if err != nil {
		return fmt.Errorf("load promises: %w", err)
	}
	if len(promises) == 0 {
		if opts.Session != "" {
			return fmt.Errorf("%w: session %s", ErrEmptyCorpus, opts.Session)
		}
		return ErrEmptyCorpus
	}

	idx, err := p.generator.BuildIndex(ctx, promises)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorpusEmbedding, err)
	}
	if idx.Len() == 0 {
		return fmt.Errorf("%w: no promise has an id", ErrEmptyCorpus)
	}
	summary.PromisesLoaded = idx.Len()

	items, err := p.store.ListEvidence(ctx, store.EvidenceFilter{
		Session:  opts.Session,
		Statuses: eligibleStatuses(opts.Force),
		Limit:    opts.Limit,
	})
	if err != nil {
		return fmt.Errorf("select evidence: %w", err)
	}
	summary.EvidenceSelected = len(items)

	log.Info("run started",
		zap.Int("promises", summary.PromisesLoaded),
		zap.Int("evidence", summary.EvidenceSelected),
		zap.String("mode", string(p.generator.Mode())),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("force", opts.Force))

	for _, batch := range worker.Batches(items, p.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}

		candidates, genErrs := worker.Map(ctx, batch, p.config.Concurrency,
			func(ctx context.Context, e model.EvidenceItem) ([]match.Candidate, error) {
				if err := checkInput(e); err != nil {
					return nil, err
				}
				return p.generator.Generate(ctx, idx, e)
			})

		for i, e := range batch {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			p.processItem(ctx, idx, e, candidates[i], genErrs[i], opts.DryRun, summary, log)
		}
	}

	// Validation may have been cut short by the deadline on the last item
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

// processItem decides and commits one evidence item. Validation and commit for
// an item finish before the next item starts.
func (p *Pipeline) processItem(ctx context.Context, idx *match.Index, e model.EvidenceItem, candidates []match.Candidate, genErr error, dryRun bool, summary *model.RunSummary, log *zap.Logger) {
	ctx, span := p.tracer.Start(ctx, "pipeline.evidence", trace.WithAttributes(
		attribute.String("evidence.id", e.ID),
		attribute.String("evidence.source_type", e.SourceType.String()),
	))
	defer span.End()

	log = logger.WithFields(log, logger.StringFields(
		logger.StringField{Key: logger.FieldEvidenceID, Value: e.ID},
	)...)

	if genErr != nil {
		summary.Errors++
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "candidate generation failed")

		if errors.Is(genErr, ErrInvalidInput) {
			p.metrics.EvidenceHandled(string(model.StatusError))
			log.Warn("evidence rejected", zap.Error(genErr))
			if !dryRun && e.ID != "" {
				if err := p.store.MarkError(ctx, e.ID, genErr.Error()); err != nil {
					log.Error("mark error failed", zap.Error(err))
				}
			}
			return
		}

		// Transient (embedding) failures leave the item eligible for the next run
		p.metrics.EvidenceHandled(string(model.StatusPending))
		log.Warn("candidate generation failed", zap.Error(genErr))
		return
	}

	summary.CandidatesGenerated += len(candidates)
	p.metrics.CandidatesGenerated(len(candidates))
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if !dryRun {
		if err := p.store.MarkProcessing(ctx, e.ID); err != nil {
			summary.Errors++
			span.RecordError(err)
			span.SetStatus(codes.Error, "claim failed")
			log.Error("mark processing failed", zap.Error(err))
			return
		}
	}

	res := p.engine.Decide(ctx, e, candidates, idx)
	summary.ValidatorCalls += res.ValidatorCalls
	summary.ValidatorErrors += res.ValidatorErrors
	summary.Bypassed += res.Bypassed

	if ctx.Err() != nil {
		// Verdicts lost to cancellation are not rejections; leave the item for the next run
		log.Warn("run interrupted before commit")
		return
	}

	newLinks := newLinkCounts(e, res.Links)

	if dryRun {
		summary.EvidenceProcessed++
		for _, n := range newLinks {
			summary.LinksCreated += n
		}
		summary.Preview = append(summary.Preview, previewEntries(e, res, idx)...)
		log.Debug("evidence decided (dry run)", zap.Int("links", len(res.Links)))
		return
	}

	created, err := p.store.CommitLinks(ctx, e.ID, res.Links)
	if err != nil {
		summary.Errors++
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		p.metrics.EvidenceHandled(string(model.StatusProcessing))
		log.Error("commit links failed", zap.Error(err))
		return
	}

	summary.EvidenceProcessed++
	summary.LinksCreated += created
	p.metrics.EvidenceHandled(string(model.StatusProcessed))
	for method, n := range newLinks {
		p.metrics.LinksCreated(string(method), n)
	}
	span.SetAttributes(attribute.Int("links.created", created))

	log.Debug("evidence linked",
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(res.Links)),
		zap.Int("created", created))
}

// eligibleStatuses lists the statuses a run selects. Processing items were
// claimed by an interrupted run and are resumed. Error items need a reset.
func eligibleStatuses(force bool) []model.LinkingStatus {
	statuses := []model.LinkingStatus{model.StatusPending, model.StatusProcessing}
	if force {
		statuses = append(statuses, model.StatusProcessed)
	}
	return statuses
}

// checkInput rejects records that no amount of retrying can link
func checkInput(e model.EvidenceItem) error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidInput)
	}
	if !e.SourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %d", ErrInvalidInput, int(e.SourceType))
	}
	return nil
}

// newLinkCounts counts accepted pairs not yet recorded on the evidence, by method
func newLinkCounts(e model.EvidenceItem, links []model.LinkRecord) map[model.LinkMethod]int {
	counts := make(map[model.LinkMethod]int)
	seen := make(map[string]bool, len(links))
	for _, rec := range links {
		if seen[rec.PromiseID] || e.HasLink(rec.PromiseID) {
			continue
		}
		seen[rec.PromiseID] = true
		counts[rec.Method]++
	}
	return counts
}
