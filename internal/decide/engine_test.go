package decide

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/promiselink/internal/match"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/validate"
)

// fakeValidator answers from a fixed verdict table and records which pairs it saw
type fakeValidator struct {
	verdicts map[string]*model.Verdict // missing id = validation failure
	seen     []string
}

func (f *fakeValidator) ValidateBatch(ctx context.Context, e model.EvidenceItem, promises []model.Promise) []validate.Result {
	out := make([]validate.Result, len(promises))
	for i, p := range promises {
		f.seen = append(f.seen, p.ID)
		out[i].PromiseID = p.ID
		if v, ok := f.verdicts[p.ID]; ok {
			out[i].Verdict = v
		} else {
			out[i].Err = fmt.Errorf("%w: no verdict", validate.ErrValidationFailed)
		}
	}
	return out
}

type corpus map[string]model.Promise

func (c corpus) Promise(id string) (model.Promise, bool) {
	p, ok := c[id]
	return p, ok
}

func corpusOf(ids ...string) corpus {
	c := make(corpus)
	for _, id := range ids {
		c[id] = model.Promise{ID: id, Text: "promise " + id}
	}
	return c
}

func defaultTable(t *testing.T) *ThresholdTable {
	t.Helper()
	table, err := NewThresholdTable(model.DefaultConfig().Thresholds)
	require.NoError(t, err)
	return table
}

func cand(id string, score float64) match.Candidate {
	return match.Candidate{PromiseID: id, SemanticScore: score, CombinedScore: score, Mode: match.ModeSemantic}
}

var high = &model.Verdict{IsDirectlyRelated: true, RelevanceLevel: model.RelevanceHigh, Rationale: "Implements the promise."}

func TestThresholdTable_Defaults(t *testing.T) {
	table := defaultTable(t)

	assert.Equal(t, model.Thresholds{SemanticFloor: 0.40, ValidatorFloor: 0.7, BypassCeiling: 0.80}, table.For(model.SourceBillEvent))
	assert.Equal(t, model.Thresholds{SemanticFloor: 0.50, ValidatorFloor: 0.7, BypassCeiling: 0.88}, table.For(model.SourceNewsRelease))
	assert.Equal(t, table.Default(), table.For(model.SourceOther))
	assert.Equal(t, table.Default(), table.For(model.SourceType(99)))
}

func TestThresholdTable_AliasKeys(t *testing.T) {
	table, err := NewThresholdTable(model.ThresholdConfig{
		Default:  model.Thresholds{SemanticFloor: 0.45, ValidatorFloor: 0.7, BypassCeiling: 0.85},
		BySource: map[string]model.Thresholds{"OIC": {SemanticFloor: 0.3, ValidatorFloor: 0.4, BypassCeiling: 0.9}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.3, table.For(model.SourceOrderInCouncil).SemanticFloor)
}

func TestThresholdTable_Rejects(t *testing.T) {
	ok := model.Thresholds{SemanticFloor: 0.45, ValidatorFloor: 0.7, BypassCeiling: 0.85}

	tests := []struct {
		name string
		cfg  model.ThresholdConfig
	}{
		{"unknown source", model.ThresholdConfig{Default: ok, BySource: map[string]model.Thresholds{"tweet": ok}}},
		{"floor above ceiling", model.ThresholdConfig{Default: model.Thresholds{SemanticFloor: 0.9, BypassCeiling: 0.5}}},
		{"out of range", model.ThresholdConfig{Default: ok, BySource: map[string]model.Thresholds{"regulation": {SemanticFloor: 0.1, ValidatorFloor: 1.5, BypassCeiling: 0.9}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewThresholdTable(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDecide_BelowFloorAndBypass(t *testing.T) {
	v := &fakeValidator{verdicts: map[string]*model.Verdict{}}
	e := NewEngine(defaultTable(t), v, 10, nil, nil)

	ev := model.EvidenceItem{ID: "e1", SourceType: model.SourceNewsRelease}
	res := e.Decide(context.Background(), ev, []match.Candidate{cand("bypass", 0.91), cand("low", 0.30)}, corpusOf("bypass", "low"))

	require.Len(t, res.Decisions, 2)
	assert.Equal(t, OutcomeBypass, res.Decisions[0].Outcome)
	assert.Equal(t, OutcomeBelowFloor, res.Decisions[1].Outcome)
	assert.Empty(t, v.seen, "neither bypass nor below-floor candidates reach the validator")
	assert.Equal(t, 0, res.ValidatorCalls)
	assert.Equal(t, 1, res.Bypassed)

	require.Len(t, res.Links, 1)
	link := res.Links[0]
	assert.Equal(t, "bypass", link.PromiseID)
	assert.Equal(t, "e1", link.EvidenceID)
	assert.Equal(t, model.MethodSemanticBypass, link.Method)
	assert.Equal(t, 0.91, link.ConfidenceScore)
	assert.False(t, link.CreatedAt.IsZero())
}

func TestDecide_BypassAtCeiling(t *testing.T) {
	v := &fakeValidator{}
	e := NewEngine(defaultTable(t), v, 10, nil, nil)

	ev := model.EvidenceItem{ID: "e1", SourceType: model.SourceBillEvent}
	res := e.Decide(context.Background(), ev, []match.Candidate{cand("p", 0.80)}, corpusOf("p"))

	assert.Equal(t, OutcomeBypass, res.Decisions[0].Outcome)
	assert.Empty(t, v.seen)
}

func TestDecide_KeywordFallbackMethod(t *testing.T) {
	e := NewEngine(defaultTable(t), nil, 10, nil, nil)

	c := cand("p", 1.0)
	c.Mode = match.ModeKeyword
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, []match.Candidate{c}, corpusOf("p"))

	require.Len(t, res.Links, 1)
	assert.Equal(t, model.MethodKeywordFallback, res.Links[0].Method)
}

func TestDecide_JustTransitionScenario(t *testing.T) {
	v := &fakeValidator{verdicts: map[string]*model.Verdict{"jt": high}}
	e := NewEngine(defaultTable(t), v, 10, nil, nil)

	c := match.Candidate{PromiseID: "jt", SemanticScore: 0.70, DepartmentBoost: 0.05, CombinedScore: 0.75, Mode: match.ModeSemantic}
	ev := model.EvidenceItem{ID: "c50", Title: "Bill C-50: Sustainable Jobs Act", SourceType: model.SourceBillEvent}

	res := e.Decide(context.Background(), ev, []match.Candidate{c}, corpusOf("jt"))

	assert.Equal(t, []string{"jt"}, v.seen)
	assert.Equal(t, 1, res.ValidatorCalls)
	require.Len(t, res.Links, 1)
	assert.Equal(t, model.MethodLLMValidated, res.Links[0].Method)
	assert.Equal(t, 0.9, res.Links[0].ConfidenceScore)
	assert.Equal(t, "Implements the promise.", res.Links[0].Rationale)
}

func TestDecide_ValidatorOutcomes(t *testing.T) {
	v := &fakeValidator{verdicts: map[string]*model.Verdict{
		"medium":    {IsDirectlyRelated: true, RelevanceLevel: model.RelevanceMedium},
		"low":       {IsDirectlyRelated: true, RelevanceLevel: model.RelevanceLow},
		"unrelated": {IsDirectlyRelated: false, RelevanceLevel: model.RelevanceHigh},
	}}
	e := NewEngine(defaultTable(t), v, 10, nil, nil)

	cands := []match.Candidate{cand("medium", 0.7), cand("low", 0.69), cand("unrelated", 0.68), cand("broken", 0.67)}
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1", SourceType: model.SourceRegulation}, cands, corpusOf("medium", "low", "unrelated", "broken"))

	assert.Equal(t, OutcomeValidated, res.Decisions[0].Outcome)
	assert.Equal(t, OutcomeNotRelated, res.Decisions[1].Outcome)
	assert.Equal(t, OutcomeNotRelated, res.Decisions[2].Outcome)
	assert.Equal(t, OutcomeValidatorFailed, res.Decisions[3].Outcome)
	assert.ErrorIs(t, res.Decisions[3].Err, validate.ErrValidationFailed)

	assert.Equal(t, 4, res.ValidatorCalls)
	assert.Equal(t, 1, res.ValidatorErrors)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "medium", res.Links[0].PromiseID)
	assert.Equal(t, 0.7, res.Links[0].ConfidenceScore)
	assert.Equal(t, "classifier relevance Medium", res.Links[0].Rationale)
}

func TestDecide_RankCap(t *testing.T) {
	v := &fakeValidator{verdicts: map[string]*model.Verdict{"a": high, "b": high, "c": high, "d": high}}
	e := NewEngine(defaultTable(t), v, 2, nil, nil)

	cands := []match.Candidate{cand("a", 0.7), cand("b", 0.6), cand("c", 0.55), cand("d", 0.5)}
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, cands, corpusOf("a", "b", "c", "d"))

	assert.Equal(t, []string{"a", "b"}, v.seen)
	assert.Equal(t, OutcomeCapReached, res.Decisions[2].Outcome)
	assert.Equal(t, OutcomeCapReached, res.Decisions[3].Outcome)
	assert.Len(t, res.Links, 2)
}

func TestDecide_RankCapStillBypasses(t *testing.T) {
	e := NewEngine(defaultTable(t), &fakeValidator{}, 1, nil, nil)

	cands := []match.Candidate{cand("a", 0.99), cand("b", 0.95)}
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, cands, corpusOf("a", "b"))

	assert.Len(t, res.Links, 2)
}

func TestDecide_NoValidatorAndUnknownPromise(t *testing.T) {
	e := NewEngine(defaultTable(t), nil, 10, nil, nil)
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, []match.Candidate{cand("a", 0.6)}, corpusOf("a"))
	assert.Equal(t, OutcomeNoValidator, res.Decisions[0].Outcome)
	assert.Empty(t, res.Links)

	v := &fakeValidator{verdicts: map[string]*model.Verdict{"ghost": high}}
	e = NewEngine(defaultTable(t), v, 10, nil, nil)
	res = e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, []match.Candidate{cand("ghost", 0.6)}, corpusOf())
	assert.Equal(t, OutcomeUnknownPromise, res.Decisions[0].Outcome)
	assert.Empty(t, v.seen)
}

func TestDecide_EmptyCandidates(t *testing.T) {
	e := NewEngine(defaultTable(t), &fakeValidator{}, 10, nil, nil)
	res := e.Decide(context.Background(), model.EvidenceItem{ID: "e1"}, nil, corpusOf())
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Links)
}

// Raising any single threshold must never increase accepted links for the same
// candidates and the same classifier answers.
func TestDecide_ThresholdMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	levels := []model.RelevanceLevel{model.RelevanceHigh, model.RelevanceMedium, model.RelevanceLow, model.RelevanceNotRelated}

	accepted := func(th model.Thresholds, cands []match.Candidate, v *fakeValidator, ids corpus) int {
		table, err := NewThresholdTable(model.ThresholdConfig{Default: th})
		require.NoError(t, err)
		return len(NewEngine(table, v, 5, nil, nil).Decide(context.Background(), model.EvidenceItem{ID: "e"}, cands, ids).Links)
	}

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(12)
		ids := make(corpus)
		verdicts := make(map[string]*model.Verdict)
		cands := make([]match.Candidate, n)
		score := 1.0
		for i := range cands {
			id := fmt.Sprintf("p%02d", i)
			ids[id] = model.Promise{ID: id}
			score -= rng.Float64() * 0.15
			if score < 0 {
				score = 0
			}
			cands[i] = cand(id, score)
			if rng.Intn(5) > 0 {
				verdicts[id] = &model.Verdict{IsDirectlyRelated: rng.Intn(3) > 0, RelevanceLevel: levels[rng.Intn(len(levels))]}
			}
		}

		floor := rng.Float64() * 0.6
		base := model.Thresholds{SemanticFloor: floor, ValidatorFloor: rng.Float64(), BypassCeiling: floor + rng.Float64()*(1-floor)}
		want := accepted(base, cands, &fakeValidator{verdicts: verdicts}, ids)

		raised := []model.Thresholds{base, base, base}
		raised[0].SemanticFloor = base.SemanticFloor + rng.Float64()*(base.BypassCeiling-base.SemanticFloor)
		raised[1].ValidatorFloor = base.ValidatorFloor + rng.Float64()*(1-base.ValidatorFloor)
		raised[2].BypassCeiling = base.BypassCeiling + rng.Float64()*(1-base.BypassCeiling)

		for i, th := range raised {
			got := accepted(th, cands, &fakeValidator{verdicts: verdicts}, ids)
			assert.LessOrEqual(t, got, want, "trial %d, raised threshold %d: %+v -> %+v", trial, i, base, th)
		}
	}
}
