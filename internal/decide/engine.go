package decide

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/match"
	"github.com/ppiankov/promiselink/internal/metrics"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/validate"
)

// Outcome is the resolution of one candidate
type Outcome string

const (
	OutcomeBelowFloor      Outcome = "below_floor"      // Combined score under the semantic floor
	OutcomeBypass          Outcome = "bypass"           // Accepted on score alone
	OutcomeValidated       Outcome = "validated"        // Accepted by the classifier
	OutcomeNotRelated      Outcome = "not_related"      // Classifier said no, or relevance under the floor
	OutcomeValidatorFailed Outcome = "validator_failed" // Classifier never produced a verdict
	OutcomeCapReached      Outcome = "cap_reached"      // Ranked past the per-evidence call cap
	OutcomeNoValidator     Outcome = "no_validator"     // Borderline but no classifier configured
	OutcomeUnknownPromise  Outcome = "unknown_promise"  // Candidate id missing from the corpus
)

// BatchValidator is the part of the validator the engine uses
type BatchValidator interface {
	ValidateBatch(ctx context.Context, e model.EvidenceItem, promises []model.Promise) []validate.Result
}

// PromiseLookup resolves candidate ids to promise records
type PromiseLookup interface {
	Promise(id string) (model.Promise, bool)
}

// Decision is the resolution of one candidate, kept for the dry-run preview
type Decision struct {
	Candidate  match.Candidate
	Thresholds model.Thresholds
	Rank       int
	Outcome    Outcome
	Accepted   bool
	Method     model.LinkMethod
	Confidence float64
	Verdict    *model.Verdict
	Err        error
}

// Result is everything decided for one evidence item
type Result struct {
	Decisions       []Decision
	Links           []model.LinkRecord
	ValidatorCalls  int // Pairs sent to the classifier
	ValidatorErrors int // Pairs with no verdict after retries
	Bypassed        int
}

// Engine turns ranked candidates into accepted links
type Engine struct {
	table     *ThresholdTable
	validator BatchValidator
	maxRank   int // Candidates ranked at or past this are never validated, 0 = no cap
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewEngine creates an engine. A nil validator rejects every borderline candidate.
// maxValidatorRank caps validation to the top-ranked candidates.
func NewEngine(table *ThresholdTable, validator BatchValidator, maxValidatorRank int, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		table:     table,
		validator: validator,
		maxRank:   maxValidatorRank,
		metrics:   m,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// Decide applies, per candidate and in order: reject under the semantic floor,
// accept at or over the bypass ceiling, otherwise ask the classifier. Only
// candidates ranked under the call cap are eligible for validation, so raising
// any threshold can never add a link.
func (e *Engine) Decide(ctx context.Context, ev model.EvidenceItem, candidates []match.Candidate, promises PromiseLookup) Result {
	th := e.table.For(ev.SourceType)
	res := Result{Decisions: make([]Decision, len(candidates))}

	var pending []int
	var toValidate []model.Promise

	for rank, c := range candidates {
		d := Decision{Candidate: c, Thresholds: th, Rank: rank}

		switch {
		case c.CombinedScore < th.SemanticFloor:
			d.Outcome = OutcomeBelowFloor

		case c.CombinedScore >= th.BypassCeiling:
			d.Outcome = OutcomeBypass
			d.Accepted = true
			d.Method = model.MethodSemanticBypass
			if c.Mode == match.ModeKeyword {
				d.Method = model.MethodKeywordFallback
			}
			d.Confidence = c.CombinedScore
			res.Bypassed++

		case e.maxRank > 0 && rank >= e.maxRank:
			d.Outcome = OutcomeCapReached

		case e.validator == nil:
			d.Outcome = OutcomeNoValidator

		default:
			p, ok := promises.Promise(c.PromiseID)
			if !ok {
				d.Outcome = OutcomeUnknownPromise
				break
			}
			pending = append(pending, rank)
			toValidate = append(toValidate, p)
		}

		res.Decisions[rank] = d
	}

	if len(toValidate) > 0 {
		results := e.validator.ValidateBatch(ctx, ev, toValidate)
		for j, r := range results {
			d := &res.Decisions[pending[j]]
			if r.Called() {
				res.ValidatorCalls++
			}
			e.applyVerdict(d, r)
			if d.Outcome == OutcomeValidatorFailed {
				res.ValidatorErrors++
			}
		}
	}

	now := e.now().UTC()
	for _, d := range res.Decisions {
		e.metrics.Decision(string(d.Outcome))
		if !d.Accepted {
			continue
		}
		res.Links = append(res.Links, model.LinkRecord{
			PromiseID:       d.Candidate.PromiseID,
			EvidenceID:      ev.ID,
			ConfidenceScore: d.Confidence,
			Method:          d.Method,
			Rationale:       rationale(d),
			CreatedAt:       now,
		})
	}

	e.log.Debug("candidates decided",
		zap.String(logger.FieldEvidenceID, ev.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(res.Links)),
		zap.Int("validator_calls", res.ValidatorCalls))
	return res
}

func (e *Engine) applyVerdict(d *Decision, r validate.Result) {
	switch {
	case r.Err != nil:
		d.Err = r.Err
		d.Outcome = OutcomeValidatorFailed
		if !r.Called() {
			d.Outcome = OutcomeCapReached
		}

	case r.Verdict == nil:
		d.Outcome = OutcomeValidatorFailed

	default:
		d.Verdict = r.Verdict
		score := r.Verdict.RelevanceLevel.Score()
		if r.Verdict.IsDirectlyRelated && score >= d.Thresholds.ValidatorFloor {
			d.Outcome = OutcomeValidated
			d.Accepted = true
			d.Method = model.MethodLLMValidated
			d.Confidence = score
		} else {
			d.Outcome = OutcomeNotRelated
		}
	}
}

func rationale(d Decision) string {
	switch d.Method {
	case model.MethodLLMValidated:
		if d.Verdict.Rationale != "" {
			return d.Verdict.Rationale
		}
		return fmt.Sprintf("classifier relevance %s", d.Verdict.RelevanceLevel)
	case model.MethodKeywordFallback:
		return fmt.Sprintf("keyword score %.3f at or above bypass ceiling %.2f", d.Candidate.CombinedScore, d.Thresholds.BypassCeiling)
	default:
		return fmt.Sprintf("similarity %.3f at or above bypass ceiling %.2f", d.Candidate.CombinedScore, d.Thresholds.BypassCeiling)
	}
}
