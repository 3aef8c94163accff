package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ppiankov/promiselink/internal/model"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(context.Background(), model.StoreConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *GormStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.UpsertPromises(ctx, []model.Promise{
		{ID: "p1", Text: "Introduce Just Transition legislation", ResponsibleDepartment: "Natural Resources Canada", Keywords: []string{"just transition"}, ParliamentSessionID: "44-1"},
		{ID: "p2", Text: "Build more housing", ParliamentSessionID: "44-1"},
		{ID: "p3", Text: "Old promise", ParliamentSessionID: "43-2"},
	})
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.UpsertEvidence(ctx, []model.EvidenceItem{
		{ID: "e1", Title: "Bill C-50", SourceType: model.SourceBillEvent, Date: base, ParliamentSessionID: "44-1", Departments: []string{"NRCan"}},
		{ID: "e2", Title: "Housing accelerator fund", SourceType: model.SourceNewsRelease, Date: base.Add(24 * time.Hour), ParliamentSessionID: "44-1"},
		{ID: "e3", Title: "Older release", SourceType: model.SourceNewsRelease, Date: base.Add(-24 * time.Hour), ParliamentSessionID: "43-2"},
	})
	require.NoError(t, err)
}

func link(promiseID, evidenceID string, score float64) model.LinkRecord {
	return model.LinkRecord{
		PromiseID:       promiseID,
		EvidenceID:      evidenceID,
		ConfidenceScore: score,
		Method:          model.MethodLLMValidated,
		Rationale:       "test",
	}
}

func TestUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	promises, err := s.ListPromises(ctx, PromiseFilter{Session: "44-1"})
	require.NoError(t, err)
	require.Len(t, promises, 2)
	assert.Equal(t, "p1", promises[0].ID)
	assert.Equal(t, []string{"just transition"}, promises[0].Keywords)

	evidence, err := s.ListEvidence(ctx, EvidenceFilter{})
	require.NoError(t, err)
	require.Len(t, evidence, 3)
	assert.Equal(t, []string{"e3", "e1", "e2"}, []string{evidence[0].ID, evidence[1].ID, evidence[2].ID}, "ordered by date")
	assert.Equal(t, model.StatusPending, evidence[0].LinkingStatus)
	assert.Equal(t, model.SourceBillEvent, evidence[1].SourceType)
	assert.Equal(t, []string{"NRCan"}, evidence[1].Departments)

	limited, err := s.ListEvidence(ctx, EvidenceFilter{Session: "44-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "e1", limited[0].ID)

	byID, err := s.ListEvidence(ctx, EvidenceFilter{IDs: []string{"e2", "e3"}})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
}

func TestUpsertRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertPromises(context.Background(), []model.Promise{{Text: "no id"}})
	assert.Error(t, err)
	_, err = s.UpsertEvidence(context.Background(), []model.EvidenceItem{{Title: "no id"}})
	assert.Error(t, err)
}

func TestUpsertKeepsLinkState(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e1", 0.9)})
	require.NoError(t, err)

	_, err = s.UpsertEvidence(ctx, []model.EvidenceItem{{ID: "e1", Title: "Bill C-50 (amended title)", SourceType: model.SourceBillEvent}})
	require.NoError(t, err)
	_, err = s.UpsertPromises(ctx, []model.Promise{{ID: "p1", Text: "Reworded promise"}})
	require.NoError(t, err)

	ev, err := s.GetEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Bill C-50 (amended title)", ev.Title)
	assert.Equal(t, model.StatusProcessed, ev.LinkingStatus)
	assert.True(t, ev.HasLink("p1"))

	p, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Reworded promise", p.Text)
	assert.True(t, p.HasLink("e1"))
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEvidence(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPromise(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitLinks_BothSidesAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	links := []model.LinkRecord{link("p1", "e1", 0.9), link("p2", "e1", 0.7)}

	created, err := s.CommitLinks(ctx, "e1", links)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = s.CommitLinks(ctx, "e1", links)
	require.NoError(t, err)
	assert.Equal(t, 0, created, "re-committing the same pairs creates nothing")

	ev, err := s.GetEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, ev.LinkingStatus)
	assert.NotNil(t, ev.LinkedAt)
	assert.Len(t, ev.LinkedPromises, 2)

	for _, id := range []string{"p1", "p2"} {
		p, err := s.GetPromise(ctx, id)
		require.NoError(t, err)
		require.Len(t, p.LinkedEvidence, 1, id)
		assert.Equal(t, "e1", p.LinkedEvidence[0].EvidenceID)
	}

	report, err := s.Audit(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.Links)
}

func TestCommitLinks_ReplacesByPair(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e1", 0.7)})
	require.NoError(t, err)
	_, err = s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "", 0.9), link("p1", "e1", 0.95)})
	require.NoError(t, err)

	p, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, p.LinkedEvidence, 1)
	assert.Equal(t, 0.95, p.LinkedEvidence[0].ConfidenceScore)
}

func TestCommitLinks_ZeroLinks(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	created, err := s.CommitLinks(ctx, "e2", nil)
	require.NoError(t, err)
	assert.Zero(t, created)

	ev, err := s.GetEvidence(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, ev.LinkingStatus)
	assert.Empty(t, ev.LinkedPromises)
}

func TestCommitLinks_RollsBackOnUnknownPromise(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.MarkProcessing(ctx, "e1"))

	_, err := s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e1", 0.9), link("ghost", "e1", 0.9)})
	require.ErrorIs(t, err, ErrUnknownPromise)

	p, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.LinkedEvidence, "promise side must roll back with the failed commit")

	ev, err := s.GetEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, ev.LinkedPromises)
	assert.Equal(t, model.StatusProcessing, ev.LinkingStatus)
}

func TestCommitLinks_Rejects(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.CommitLinks(ctx, "missing", []model.LinkRecord{link("p1", "missing", 0.9)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e2", 0.9)})
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e1", 0.9), link("p2", "e1", 0.8)})
	require.NoError(t, err)
	_, err = s.CommitLinks(ctx, "e2", []model.LinkRecord{link("p2", "e2", 0.8)})
	require.NoError(t, err)

	// A stray promise-side record that the evidence side does not list
	stray, err := encodeJSON([]model.LinkRecord{link("p3", "e1", 0.5)})
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&promiseRow{}).Where("id = ?", "p3").Update("linked_evidence", stray).Error)

	n, err := s.Reset(ctx, []string{"e1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := s.GetEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, ev.LinkingStatus)
	assert.Empty(t, ev.LinkedPromises)
	assert.Nil(t, ev.LinkedAt)

	promises, err := s.ListPromises(ctx, PromiseFilter{})
	require.NoError(t, err)
	for _, p := range promises {
		assert.False(t, p.HasLink("e1"), "promise %s still links e1", p.ID)
	}

	p2, err := s.GetPromise(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, p2.HasLink("e2"), "other evidence links survive")
}

func TestReset_DeletedEvidenceCleansPromises(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	// Promise-side records for an evidence id that is no longer stored
	dangling, err := encodeJSON([]model.LinkRecord{link("p2", "gone", 0.8), link("p2", "e2", 0.9)})
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&promiseRow{}).Where("id = ?", "p2").Update("linked_evidence", dangling).Error)

	n, err := s.Reset(ctx, []string{"gone"})
	require.NoError(t, err)
	assert.Zero(t, n, "unknown ids are not counted")

	p2, err := s.GetPromise(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, p2.HasLink("gone"))
	assert.True(t, p2.HasLink("e2"))
}

func TestReset_IDWithMarkupCharacters(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	id := "oic<2024>&1"
	_, err := s.UpsertEvidence(ctx, []model.EvidenceItem{{ID: id, Title: "Order in council", SourceType: model.SourceOrderInCouncil}})
	require.NoError(t, err)
	_, err = s.CommitLinks(ctx, id, []model.LinkRecord{link("p1", id, 0.9)})
	require.NoError(t, err)

	var row promiseRow
	require.NoError(t, s.db.Where("id = ?", "p1").First(&row).Error)
	assert.Contains(t, string(row.LinkedEvidence), `"evidence_id":"oic<2024>&1"`, "stored without HTML escaping")

	n, err := s.Reset(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p1, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p1.HasLink(id))
}

func TestPromisesMentioning_EscapedRows(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	// Rows written with HTML escaping still match
	raw := `[{"promise_id":"p3","evidence_id":"a\u0026b","confidence_score":0.5,"method":"llm_validated"}]`
	require.NoError(t, s.db.Model(&promiseRow{}).Where("id = ?", "p3").Update("linked_evidence", datatypes.JSON(raw)).Error)

	rows, err := promisesMentioning(s.db, "a&b")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p3", rows[0].ID)
}

func TestAudit_DetectsAndRepairs(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.CommitLinks(ctx, "e1", []model.LinkRecord{link("p1", "e1", 0.9)})
	require.NoError(t, err)
	_, err = s.CommitLinks(ctx, "e2", []model.LinkRecord{link("p2", "e2", 0.9)})
	require.NoError(t, err)

	// Drop the promise half of (p1, e1) and add a promise-only (p3, e3)
	require.NoError(t, s.db.Model(&promiseRow{}).Where("id = ?", "p1").Update("linked_evidence", emptyArray()).Error)
	orphan, err := encodeJSON([]model.LinkRecord{link("p3", "e3", 0.6)})
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&promiseRow{}).Where("id = ?", "p3").Update("linked_evidence", orphan).Error)

	report, err := s.Audit(ctx, false)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, 1, report.Links)
	assert.Equal(t, []model.LinkPair{{PromiseID: "p3", EvidenceID: "e3"}}, report.PromiseOnly)
	assert.Equal(t, []model.LinkPair{{PromiseID: "p1", EvidenceID: "e1"}}, report.EvidenceOnly)
	assert.Empty(t, report.Repaired)

	report, err = s.Audit(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, report.Repaired)

	report, err = s.Audit(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.Links)

	ev, err := s.GetEvidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, ev.LinkingStatus)
	assert.Empty(t, ev.LinkedPromises)

	ev2, err := s.GetEvidence(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, ev2.LinkingStatus)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessing(ctx, "e1"))
	require.NoError(t, s.MarkError(ctx, "e2", "missing title"))
	assert.ErrorIs(t, s.MarkProcessing(ctx, "missing"), ErrNotFound)

	ev, err := s.GetEvidence(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, ev.LinkingStatus)
	assert.Equal(t, "missing title", ev.LinkingError)

	pending, err := s.ListEvidence(ctx, EvidenceFilter{Statuses: []model.LinkingStatus{model.StatusPending, model.StatusProcessing}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	counts, err := s.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[model.LinkingStatus]int{
		model.StatusPending:    1,
		model.StatusProcessing: 1,
		model.StatusError:      1,
	}, counts)
}

func TestUpdateProgress(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	score := model.ProgressScore{
		Score:   4,
		Label:   "Substantial progress",
		Summary: "Bill passed",
		Signals: []model.Signal{{Type: model.SignalLegislative, Severity: model.SeverityInfo, Description: "1 bill event"}},
	}
	require.NoError(t, s.UpdateProgress(ctx, "p1", score))
	assert.ErrorIs(t, s.UpdateProgress(ctx, "missing", score), ErrNotFound)

	p, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Progress.Score)
	assert.Equal(t, "Bill passed", p.Progress.Summary)
	require.Len(t, p.Progress.Signals, 1)
	assert.Equal(t, model.SignalLegislative, p.Progress.Signals[0].Type)
	assert.False(t, p.Progress.ScoredAt.IsZero())
}
