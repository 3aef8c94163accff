package validate

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/llm"
	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/metrics"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/util"
	"github.com/ppiankov/promiselink/internal/worker"
)

//go:embed prompt.md
var systemPrompt string

var (
	// ErrValidationFailed is returned when a pair could not be classified after
	// all retries. The pair is unknown and must never count as a match.
	ErrValidationFailed = errors.New("validation failed")

	// ErrCallCapReached marks batch entries past the per-evidence call cap
	ErrCallCapReached = errors.New("validator call cap reached")
)

// maxFieldRunes bounds each free-text field sent to the classifier
const maxFieldRunes = 1500

// validateSleepFunc waits between retries (injectable for tests)
var validateSleepFunc = sleepContext

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options bounds retries and call volume
type Options struct {
	MaxRetries          int           // Retries after the first attempt
	RetryDelay          time.Duration // Fixed delay between attempts
	MaxCallsPerEvidence int           // 0 = unlimited
	Timeout             time.Duration // Per attempt, 0 = none
	MaxTokens           int
}

// OptionsFromConfig combines the validator and classifier sections of the run config
func OptionsFromConfig(v model.ValidatorConfig, c model.ClassifierConfig) Options {
	return Options{
		MaxRetries:          v.MaxRetries,
		RetryDelay:          v.RetryDelay,
		MaxCallsPerEvidence: v.MaxCallsPerEvidence,
		Timeout:             c.Timeout,
		MaxTokens:           c.MaxTokens,
	}
}

// Validator asks the relevance classifier whether an evidence item directly
// advances a promise.
type Validator struct {
	classifier llm.Classifier
	limiter    *worker.Limiter
	schema     *jsonschema.Schema
	opts       Options
	metrics    *metrics.Metrics
	log        *zap.Logger
	tracer     trace.Tracer
}

// NewValidator creates a validator. The limiter is shared by every validator
// of a run; nil disables rate limiting.
func NewValidator(classifier llm.Classifier, limiter *worker.Limiter, opts Options, m *metrics.Metrics, log *zap.Logger) (*Validator, error) {
	if classifier == nil {
		return nil, errors.New("validator requires a classifier")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	schema, err := compileVerdictSchema()
	if err != nil {
		return nil, err
	}

	return &Validator{
		classifier: classifier,
		limiter:    limiter,
		schema:     schema,
		opts:       opts,
		metrics:    m,
		log:        logger.WithFields(log, zap.String(logger.FieldProvider, classifier.Name())),
		tracer:     otel.Tracer("promiselink/validate"),
	}, nil
}

// MaxCallsPerEvidence returns the per-evidence cap, 0 when unlimited
func (v *Validator) MaxCallsPerEvidence() int {
	return v.opts.MaxCallsPerEvidence
}

// Validate classifies one (evidence, promise) pair. Malformed output, provider
// errors and per-attempt timeouts are retried after a fixed delay; when every
// attempt fails the returned error wraps ErrValidationFailed.
func (v *Validator) Validate(ctx context.Context, e model.EvidenceItem, p model.Promise) (*model.Verdict, error) {
	ctx, span := v.tracer.Start(ctx, "validate.pair", trace.WithAttributes(
		attribute.String("evidence.id", e.ID),
		attribute.String("promise.id", p.ID),
		attribute.String("provider", v.classifier.Name()),
	))
	defer span.End()

	log := logger.WithFields(v.log, logger.PairFields(e.ID, p.ID)...)

	prompt, fingerprint, err := buildPrompt(e, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	span.SetAttributes(attribute.String("request.fingerprint", fingerprint))

	req := llm.CompletionRequest{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: v.opts.MaxTokens,
		JSON:      true,
	}

	attempts := 1 + v.opts.MaxRetries
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := validateSleepFunc(ctx, v.opts.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		if err := v.limiter.Wait(ctx, v.classifier.Name()); err != nil {
			lastErr = err
			break
		}

		verdict, err := v.attempt(ctx, req)
		if err == nil {
			span.SetAttributes(
				attribute.Int("attempts", attempt+1),
				attribute.String("relevance_level", string(verdict.RelevanceLevel)),
			)
			log.Debug("pair classified",
				zap.Int("attempt", attempt+1),
				zap.Bool("related", verdict.IsDirectlyRelated),
				zap.String("level", string(verdict.RelevanceLevel)))
			return verdict, nil
		}

		lastErr = err
		log.Debug("classifier attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("of", attempts),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "validation failed")
	log.Warn("pair left unvalidated", zap.String("request", fingerprint), zap.Error(lastErr))
	return nil, fmt.Errorf("%w: evidence %s, promise %s: %w", ErrValidationFailed, e.ID, p.ID, lastErr)
}

// attempt makes a single classifier call bounded by the per-attempt timeout
func (v *Validator) attempt(ctx context.Context, req llm.CompletionRequest) (*model.Verdict, error) {
	callCtx := ctx
	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := v.classifier.Complete(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
		v.metrics.ValidatorAttempt(v.classifier.Name(), result, elapsed)
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	verdict, err := parseVerdict(v.schema, resp.Text)
	if err != nil {
		v.metrics.ValidatorAttempt(v.classifier.Name(), "malformed", elapsed)
		v.log.Debug("unparseable classifier response", zap.String("response", util.TruncateForLog(resp.Text, 200)))
		return nil, err
	}

	v.metrics.ValidatorAttempt(v.classifier.Name(), "ok", elapsed)
	return verdict, nil
}

// Result is the outcome for one promise of a batch
type Result struct {
	PromiseID string
	Verdict   *model.Verdict
	Err       error
}

// Called reports whether the classifier was asked about this pair
func (r Result) Called() bool {
	return !errors.Is(r.Err, ErrCallCapReached)
}

// ValidateBatch classifies each promise against one evidence item, sequentially
// and in input order. Once MaxCallsPerEvidence pairs have been sent the rest
// come back with ErrCallCapReached and no classifier call.
func (v *Validator) ValidateBatch(ctx context.Context, e model.EvidenceItem, promises []model.Promise) []Result {
	results := make([]Result, len(promises))
	calls := 0
	for i, p := range promises {
		results[i].PromiseID = p.ID

		if v.opts.MaxCallsPerEvidence > 0 && calls >= v.opts.MaxCallsPerEvidence {
			results[i].Err = ErrCallCapReached
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = fmt.Errorf("%w: %w", ErrValidationFailed, err)
			continue
		}

		calls++
		results[i].Verdict, results[i].Err = v.Validate(ctx, e, p)
	}
	return results
}

type evidencePayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	SourceType    string   `json:"source_type"`
	Date          string   `json:"date,omitempty"`
	Departments   []string `json:"departments,omitempty"`
	KeyConcepts   []string `json:"key_concepts,omitempty"`
	BillNumber    string   `json:"bill_number,omitempty"`
	BillLongTitle string   `json:"bill_long_title,omitempty"`
	BillSummary   string   `json:"bill_summary,omitempty"`
}

type promisePayload struct {
	ID                    string   `json:"id"`
	Text                  string   `json:"text"`
	Description           string   `json:"description,omitempty"`
	Background            string   `json:"background,omitempty"`
	ResponsibleDepartment string   `json:"responsible_department,omitempty"`
	Keywords              []string `json:"keywords,omitempty"`
}

// buildPrompt renders the user message and a stable fingerprint of its payload
func buildPrompt(e model.EvidenceItem, p model.Promise) (string, string, error) {
	ev := evidencePayload{
		ID:          e.ID,
		Title:       extract.Truncate(e.Title, maxFieldRunes),
		Description: extract.Truncate(extract.VisibleText(e.Description), maxFieldRunes),
		SourceType:  e.SourceType.String(),
		Departments: e.Departments,
		KeyConcepts: e.KeyConcepts,
	}
	if !e.Date.IsZero() {
		ev.Date = e.Date.Format("2006-01-02")
	}
	if e.SourceType == model.SourceBillEvent {
		ev.BillNumber = e.BillNumber
		ev.BillLongTitle = e.BillLongTitle
		ev.BillSummary = extract.Truncate(extract.VisibleText(e.BillSummary), maxFieldRunes)
	}

	pr := promisePayload{
		ID:                    p.ID,
		Text:                  extract.Truncate(p.Text, maxFieldRunes),
		Description:           extract.Truncate(p.Description, maxFieldRunes),
		Background:            extract.Truncate(p.Background, maxFieldRunes),
		ResponsibleDepartment: p.ResponsibleDepartment,
		Keywords:              p.Keywords,
	}

	evJSON, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal evidence: %w", err)
	}
	prJSON, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal promise: %w", err)
	}

	fingerprint, err := fingerprintPayload(ev, pr)
	if err != nil {
		return "", "", err
	}

	prompt := fmt.Sprintf("EVIDENCE:\n%s\n\nPROMISE:\n%s\n\nIs this evidence directly related to the promise?", evJSON, prJSON)
	return prompt, fingerprint, nil
}

// fingerprintPayload hashes the canonical JSON of the request payload
func fingerprintPayload(ev evidencePayload, pr promisePayload) (string, error) {
	raw, err := json.Marshal(struct {
		Evidence evidencePayload `json:"evidence"`
		Promise  promisePayload  `json:"promise"`
	}{ev, pr})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:8]), nil
}
