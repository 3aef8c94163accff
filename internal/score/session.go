package score

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/store"
	"github.com/ppiankov/promiselink/internal/worker"
)

// evidenceChunk bounds the id list of one evidence query
const evidenceChunk = 500

// Store is the part of the link store scoring needs
type Store interface {
	ListPromises(ctx context.Context, f store.PromiseFilter) ([]model.Promise, error)
	ListEvidence(ctx context.Context, f store.EvidenceFilter) ([]model.EvidenceItem, error)
	UpdateProgress(ctx context.Context, promiseID string, score model.ProgressScore) error
}

// Result pairs a promise with its fresh score
type Result struct {
	PromiseID string
	Text      string
	Previous  int
	Score     model.ProgressScore
}

// ScoreSession scores every promise of a session (all sessions when empty) and,
// unless dryRun, persists the scores.
func (s *Scorer) ScoreSession(ctx context.Context, st Store, session string, dryRun bool, log *zap.Logger) ([]Result, error) {
	log = logger.WithFields(log, logger.StringFields(logger.StringField{Key: logger.FieldSession, Value: session})...)

	promises, err := st.ListPromises(ctx, store.PromiseFilter{Session: session})
	if err != nil {
		return nil, fmt.Errorf("load promises: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, p := range promises {
		for _, rec := range p.LinkedEvidence {
			if !seen[rec.EvidenceID] {
				seen[rec.EvidenceID] = true
				ids = append(ids, rec.EvidenceID)
			}
		}
	}

	var evidence []model.EvidenceItem
	for _, chunk := range worker.Batches(ids, evidenceChunk) {
		items, err := st.ListEvidence(ctx, store.EvidenceFilter{IDs: chunk})
		if err != nil {
			return nil, fmt.Errorf("load linked evidence: %w", err)
		}
		evidence = append(evidence, items...)
	}

	byID := make(map[string]model.EvidenceItem, len(evidence))
	for _, e := range evidence {
		byID[e.ID] = e
	}

	results := make([]Result, 0, len(promises))
	for _, p := range promises {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		linked := make([]model.EvidenceItem, 0, len(p.LinkedEvidence))
		for _, rec := range p.LinkedEvidence {
			if e, ok := byID[rec.EvidenceID]; ok {
				linked = append(linked, e)
			}
		}

		sc := s.Calculate(p, linked)
		results = append(results, Result{PromiseID: p.ID, Text: p.Text, Previous: p.Progress.Score, Score: sc})

		if dryRun {
			continue
		}
		if err := st.UpdateProgress(ctx, p.ID, sc); err != nil {
			return results, fmt.Errorf("store score: %w", err)
		}
		log.Debug("promise scored",
			zap.String(logger.FieldPromiseID, p.ID),
			zap.Int("score", sc.Score),
			zap.Int("evidence", sc.EvidenceN))
	}

	log.Info("promises scored", zap.Int("promises", len(results)), zap.Bool("dry_run", dryRun))
	return results, nil
}
