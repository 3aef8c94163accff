package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/model"
)

// ErrUnknownPromise is returned when a link names a promise that is not stored
var ErrUnknownPromise = errors.New("link references unknown promise")

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// CommitLinks writes the accepted links of one evidence item to both sides of
// the relation and marks the item Processed, all in one transaction. Records
// are upserted by (promise, evidence) pair, so committing the same links twice
// creates nothing new. Any failure rolls back both sides and leaves the item's
// status untouched. It returns the number of pairs that did not exist before.
func (s *GormStore) CommitLinks(ctx context.Context, evidenceID string, links []model.LinkRecord) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created = 0

		ev, err := findEvidence(lockForUpdate(tx), evidenceID)
		if err != nil {
			return err
		}
		evLinks, err := decodeJSON[model.LinkRecord](ev.LinkedPromises)
		if err != nil {
			return fmt.Errorf("evidence %s linked_promises: %w", evidenceID, err)
		}

		for _, rec := range dedupeByPair(evidenceID, links) {
			if rec.EvidenceID != evidenceID {
				return fmt.Errorf("link for promise %s names evidence %s, committing %s", rec.PromiseID, rec.EvidenceID, evidenceID)
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = s.now().UTC()
			}

			pr, err := findPromise(lockForUpdate(tx), rec.PromiseID)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownPromise, rec.PromiseID)
			}
			if err != nil {
				return err
			}
			prLinks, err := decodeJSON[model.LinkRecord](pr.LinkedEvidence)
			if err != nil {
				return fmt.Errorf("promise %s linked_evidence: %w", pr.ID, err)
			}

			prLinks, _ = upsertLink(prLinks, rec)
			var isNew bool
			evLinks, isNew = upsertLink(evLinks, rec)
			if isNew {
				created++
			}

			encoded, err := encodeJSON(prLinks)
			if err != nil {
				return err
			}
			if err := tx.Model(&promiseRow{}).Where("id = ?", pr.ID).
				Updates(map[string]any{"linked_evidence": encoded, "updated_at": s.now().UTC()}).Error; err != nil {
				return fmt.Errorf("update promise %s: %w", pr.ID, err)
			}
		}

		encoded, err := encodeJSON(nonNilLinks(evLinks))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.Model(&evidenceRow{}).Where("id = ?", evidenceID).Updates(map[string]any{
			"linked_promises": encoded,
			"linking_status":  string(model.StatusProcessed),
			"linking_error":   "",
			"linked_at":       now,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("update evidence %s: %w", evidenceID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug("links committed",
		zap.String(logger.FieldEvidenceID, evidenceID),
		zap.Int("links", len(links)),
		zap.Int("created", created))
	return created, nil
}

// Reset returns evidence items to Pending: their linked_promises are cleared and
// every promise whose linked_evidence mentions them is cleaned, whether or not
// the evidence side lists that promise. Each item is reset in its own
// transaction. Ids no longer stored still have their promise-side records
// removed but are not counted. It returns the number of items reset.
func (s *GormStore) Reset(ctx context.Context, evidenceIDs []string) (int, error) {
	reset := 0
	for _, id := range evidenceIDs {
		if err := ctx.Err(); err != nil {
			return reset, err
		}

		missing := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := findEvidence(lockForUpdate(tx), id)
			switch {
			case errors.Is(err, ErrNotFound):
				missing = true
			case err != nil:
				return err
			}
			if err := removeFromPromises(tx, id, s.now().UTC()); err != nil {
				return err
			}
			if missing {
				return nil
			}
			return tx.Model(&evidenceRow{}).Where("id = ?", id).Updates(map[string]any{
				"linked_promises": emptyArray(),
				"linking_status":  string(model.StatusPending),
				"linking_error":   "",
				"linked_at":       nil,
				"updated_at":      s.now().UTC(),
			}).Error
		})
		if err != nil {
			return reset, fmt.Errorf("reset %s: %w", id, err)
		}
		if missing {
			s.log.Warn("reset unknown evidence, cleaned promise side only", zap.String(logger.FieldEvidenceID, id))
			continue
		}
		reset++
	}
	return reset, nil
}

// removeFromPromises strips every record for evidenceID from promise link lists
func removeFromPromises(tx *gorm.DB, evidenceID string, now time.Time) error {
	rows, err := promisesMentioning(tx, evidenceID)
	if err != nil {
		return err
	}
	for _, pr := range rows {
		links, err := decodeJSON[model.LinkRecord](pr.LinkedEvidence)
		if err != nil {
			return fmt.Errorf("promise %s linked_evidence: %w", pr.ID, err)
		}
		kept, removed := removeLinks(links, func(rec model.LinkRecord) bool {
			return rec.EvidenceID == evidenceID
		})
		if removed == 0 {
			continue
		}
		encoded, err := encodeJSON(nonNilLinks(kept))
		if err != nil {
			return err
		}
		if err := tx.Model(&promiseRow{}).Where("id = ?", pr.ID).
			Updates(map[string]any{"linked_evidence": encoded, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("update promise %s: %w", pr.ID, err)
		}
	}
	return nil
}

// AuditReport describes half-links found by Audit
type AuditReport struct {
	Promises     int              `json:"promises"`
	Evidence     int              `json:"evidence"`
	Links        int              `json:"links"`         // Pairs present on both sides
	PromiseOnly  []model.LinkPair `json:"promise_only"`  // Listed by the promise, missing on the evidence
	EvidenceOnly []model.LinkPair `json:"evidence_only"` // Listed by the evidence, missing on the promise
	Repaired     []string         `json:"repaired,omitempty"`
}

// Consistent reports whether every link is present on both sides
func (r *AuditReport) Consistent() bool {
	return len(r.PromiseOnly) == 0 && len(r.EvidenceOnly) == 0
}

// Audit checks that every link record exists on both sides. With repair set,
// every half-link is removed and the evidence items involved go back to
// Pending so the next run relinks them.
func (s *GormStore) Audit(ctx context.Context, repair bool) (*AuditReport, error) {
	report := &AuditReport{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var promises []promiseRow
		if err := tx.Select("id", "linked_evidence").Order("id").Find(&promises).Error; err != nil {
			return fmt.Errorf("load promises: %w", err)
		}
		var evidence []evidenceRow
		if err := tx.Select("id", "linked_promises").Order("id").Find(&evidence).Error; err != nil {
			return fmt.Errorf("load evidence: %w", err)
		}
		report.Promises = len(promises)
		report.Evidence = len(evidence)

		promiseSide := make(map[model.LinkPair]bool)
		for _, pr := range promises {
			links, err := decodeJSON[model.LinkRecord](pr.LinkedEvidence)
			if err != nil {
				return fmt.Errorf("promise %s linked_evidence: %w", pr.ID, err)
			}
			for _, rec := range links {
				promiseSide[model.LinkPair{PromiseID: pr.ID, EvidenceID: rec.EvidenceID}] = true
			}
		}
		evidenceSide := make(map[model.LinkPair]bool)
		for _, ev := range evidence {
			links, err := decodeJSON[model.LinkRecord](ev.LinkedPromises)
			if err != nil {
				return fmt.Errorf("evidence %s linked_promises: %w", ev.ID, err)
			}
			for _, rec := range links {
				evidenceSide[model.LinkPair{PromiseID: rec.PromiseID, EvidenceID: ev.ID}] = true
			}
		}

		for pair := range promiseSide {
			if evidenceSide[pair] {
				report.Links++
			} else {
				report.PromiseOnly = append(report.PromiseOnly, pair)
			}
		}
		for pair := range evidenceSide {
			if !promiseSide[pair] {
				report.EvidenceOnly = append(report.EvidenceOnly, pair)
			}
		}
		sortPairs(report.PromiseOnly)
		sortPairs(report.EvidenceOnly)

		if !repair || report.Consistent() {
			return nil
		}
		repaired, err := s.repair(tx, report)
		if err != nil {
			return err
		}
		report.Repaired = repaired
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return report, nil
}

// repair drops the orphaned halves and returns affected evidence to Pending
func (s *GormStore) repair(tx *gorm.DB, report *AuditReport) ([]string, error) {
	now := s.now().UTC()

	byPromise := make(map[string]map[string]bool)
	for _, pair := range report.PromiseOnly {
		if byPromise[pair.PromiseID] == nil {
			byPromise[pair.PromiseID] = make(map[string]bool)
		}
		byPromise[pair.PromiseID][pair.EvidenceID] = true
	}
	byEvidence := make(map[string]map[string]bool)
	for _, pair := range report.EvidenceOnly {
		if byEvidence[pair.EvidenceID] == nil {
			byEvidence[pair.EvidenceID] = make(map[string]bool)
		}
		byEvidence[pair.EvidenceID][pair.PromiseID] = true
	}

	affected := make(map[string]bool)
	for _, promiseID := range sortedKeys(byPromise) {
		drop := byPromise[promiseID]
		pr, err := findPromise(tx, promiseID)
		if err != nil {
			return nil, err
		}
		links, err := decodeJSON[model.LinkRecord](pr.LinkedEvidence)
		if err != nil {
			return nil, err
		}
		kept, _ := removeLinks(links, func(rec model.LinkRecord) bool { return drop[rec.EvidenceID] })
		encoded, err := encodeJSON(nonNilLinks(kept))
		if err != nil {
			return nil, err
		}
		if err := tx.Model(&promiseRow{}).Where("id = ?", promiseID).
			Updates(map[string]any{"linked_evidence": encoded, "updated_at": now}).Error; err != nil {
			return nil, fmt.Errorf("repair promise %s: %w", promiseID, err)
		}
		for evidenceID := range drop {
			affected[evidenceID] = true
		}
	}

	for _, evidenceID := range sortedKeys(byEvidence) {
		drop := byEvidence[evidenceID]
		ev, err := findEvidence(tx, evidenceID)
		if err != nil {
			return nil, err
		}
		links, err := decodeJSON[model.LinkRecord](ev.LinkedPromises)
		if err != nil {
			return nil, err
		}
		kept, _ := removeLinks(links, func(rec model.LinkRecord) bool { return drop[rec.PromiseID] })
		encoded, err := encodeJSON(nonNilLinks(kept))
		if err != nil {
			return nil, err
		}
		if err := tx.Model(&evidenceRow{}).Where("id = ?", evidenceID).
			Updates(map[string]any{"linked_promises": encoded, "updated_at": now}).Error; err != nil {
			return nil, fmt.Errorf("repair evidence %s: %w", evidenceID, err)
		}
		affected[evidenceID] = true
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Orphaned promise halves may name evidence that no longer exists
	if err := tx.Model(&evidenceRow{}).Where("id IN ?", ids).Updates(map[string]any{
		"linking_status": string(model.StatusPending),
		"linking_error":  "",
		"updated_at":     now,
	}).Error; err != nil {
		return nil, fmt.Errorf("repair status: %w", err)
	}

	s.log.Info("audit repaired half-links",
		zap.Int("promise_only", len(report.PromiseOnly)),
		zap.Int("evidence_only", len(report.EvidenceOnly)),
		zap.Int("evidence_reset", len(ids)))
	return ids, nil
}

// dedupeByPair fills missing evidence ids and keeps the last record per pair
func dedupeByPair(evidenceID string, links []model.LinkRecord) []model.LinkRecord {
	out := make([]model.LinkRecord, 0, len(links))
	for _, rec := range links {
		if rec.EvidenceID == "" {
			rec.EvidenceID = evidenceID
		}
		out, _ = upsertLink(out, rec)
	}
	return out
}

func nonNilLinks(links []model.LinkRecord) []model.LinkRecord {
	if links == nil {
		return []model.LinkRecord{}
	}
	return links
}

func sortPairs(pairs []model.LinkPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].PromiseID != pairs[j].PromiseID {
			return pairs[i].PromiseID < pairs[j].PromiseID
		}
		return pairs[i].EvidenceID < pairs[j].EvidenceID
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
