package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/ppiankov/promiselink/internal/model"
)

// promiseRow is the persisted form of a promise. Link records live in a JSON
// column on both sides of the relation.
type promiseRow struct {
	ID                    string `gorm:"primaryKey"`
	Text                  string
	Description           string
	Background            string
	ResponsibleDepartment string
	Keywords              datatypes.JSON
	PartyCode             string
	ParliamentSessionID   string `gorm:"index"`
	LinkedEvidence        datatypes.JSON

	ProgressScore   int
	ProgressLabel   string
	ProgressSummary string
	ProgressSignals datatypes.JSON
	ScoredAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (promiseRow) TableName() string { return "promises" }

type evidenceRow struct {
	ID                  string `gorm:"primaryKey"`
	Title               string
	Description         string
	BillNumber          string
	BillLongTitle       string
	BillSummary         string
	SourceType          string `gorm:"index"`
	Date                time.Time
	ParliamentSessionID string `gorm:"index"`
	Departments         datatypes.JSON
	KeyConcepts         datatypes.JSON

	LinkingStatus  string `gorm:"index"`
	LinkingError   string
	LinkedPromises datatypes.JSON
	LinkedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (evidenceRow) TableName() string { return "evidence_items" }

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// marshalJSON encodes without HTML escaping, so stored text matches the way
// postgres jsonb renders the same value
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeJSON[T any](raw datatypes.JSON) ([]T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func emptyArray() datatypes.JSON {
	return datatypes.JSON("[]")
}

func toPromiseRow(p model.Promise) (promiseRow, error) {
	keywords, err := encodeJSON(nonNil(p.Keywords))
	if err != nil {
		return promiseRow{}, fmt.Errorf("encode keywords: %w", err)
	}
	return promiseRow{
		ID:                    p.ID,
		Text:                  p.Text,
		Description:           p.Description,
		Background:            p.Background,
		ResponsibleDepartment: p.ResponsibleDepartment,
		Keywords:              keywords,
		PartyCode:             p.PartyCode,
		ParliamentSessionID:   p.ParliamentSessionID,
		LinkedEvidence:        emptyArray(),
		ProgressSignals:       emptyArray(),
	}, nil
}

func (r promiseRow) toModel() (model.Promise, error) {
	keywords, err := decodeJSON[string](r.Keywords)
	if err != nil {
		return model.Promise{}, fmt.Errorf("promise %s keywords: %w", r.ID, err)
	}
	links, err := decodeJSON[model.LinkRecord](r.LinkedEvidence)
	if err != nil {
		return model.Promise{}, fmt.Errorf("promise %s linked_evidence: %w", r.ID, err)
	}
	signals, err := decodeJSON[model.Signal](r.ProgressSignals)
	if err != nil {
		return model.Promise{}, fmt.Errorf("promise %s progress_signals: %w", r.ID, err)
	}

	p := model.Promise{
		ID:                    r.ID,
		Text:                  r.Text,
		Description:           r.Description,
		Background:            r.Background,
		ResponsibleDepartment: r.ResponsibleDepartment,
		Keywords:              keywords,
		PartyCode:             r.PartyCode,
		ParliamentSessionID:   r.ParliamentSessionID,
		LinkedEvidence:        links,
		Progress: model.ProgressScore{
			Score:   r.ProgressScore,
			Label:   r.ProgressLabel,
			Summary: r.ProgressSummary,
			Signals: signals,
		},
	}
	if r.ScoredAt != nil {
		p.Progress.ScoredAt = *r.ScoredAt
	}
	p.Progress.EvidenceN = len(links)
	return p, nil
}

func toEvidenceRow(e model.EvidenceItem) (evidenceRow, error) {
	departments, err := encodeJSON(nonNil(e.Departments))
	if err != nil {
		return evidenceRow{}, fmt.Errorf("encode departments: %w", err)
	}
	concepts, err := encodeJSON(nonNil(e.KeyConcepts))
	if err != nil {
		return evidenceRow{}, fmt.Errorf("encode key_concepts: %w", err)
	}
	return evidenceRow{
		ID:                  e.ID,
		Title:               e.Title,
		Description:         e.Description,
		BillNumber:          e.BillNumber,
		BillLongTitle:       e.BillLongTitle,
		BillSummary:         e.BillSummary,
		SourceType:          e.SourceType.String(),
		Date:                e.Date.UTC(),
		ParliamentSessionID: e.ParliamentSessionID,
		Departments:         departments,
		KeyConcepts:         concepts,
		LinkingStatus:       string(model.StatusPending),
		LinkedPromises:      emptyArray(),
	}, nil
}

func (r evidenceRow) toModel() (model.EvidenceItem, error) {
	departments, err := decodeJSON[string](r.Departments)
	if err != nil {
		return model.EvidenceItem{}, fmt.Errorf("evidence %s departments: %w", r.ID, err)
	}
	concepts, err := decodeJSON[string](r.KeyConcepts)
	if err != nil {
		return model.EvidenceItem{}, fmt.Errorf("evidence %s key_concepts: %w", r.ID, err)
	}
	links, err := decodeJSON[model.LinkRecord](r.LinkedPromises)
	if err != nil {
		return model.EvidenceItem{}, fmt.Errorf("evidence %s linked_promises: %w", r.ID, err)
	}

	// Rows are only ever written with known names
	st, _ := model.ParseSourceType(r.SourceType)

	return model.EvidenceItem{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		BillNumber:          r.BillNumber,
		BillLongTitle:       r.BillLongTitle,
		BillSummary:         r.BillSummary,
		SourceType:          st,
		Date:                r.Date,
		ParliamentSessionID: r.ParliamentSessionID,
		Departments:         departments,
		KeyConcepts:         concepts,
		LinkingStatus:       model.LinkingStatus(r.LinkingStatus),
		LinkingError:        r.LinkingError,
		LinkedPromises:      links,
		LinkedAt:            r.LinkedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// upsertLink replaces the record for the same pair or appends it.
// It reports whether the pair was new.
func upsertLink(links []model.LinkRecord, rec model.LinkRecord) ([]model.LinkRecord, bool) {
	for i := range links {
		if links[i].Pair() == rec.Pair() {
			links[i] = rec
			return links, false
		}
	}
	return append(links, rec), true
}

// removeLinks drops every record for which drop returns true
func removeLinks(links []model.LinkRecord, drop func(model.LinkRecord) bool) ([]model.LinkRecord, int) {
	kept := links[:0]
	removed := 0
	for _, rec := range links {
		if drop(rec) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, removed
}
