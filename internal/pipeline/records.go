package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/promiselink/internal/model"
)

// RecordSet is the content of one record file
type RecordSet struct {
	Promises []model.Promise
	Evidence []model.EvidenceItem
	Rejected []Rejection // Evidence stored but marked Error
}

// Rejection names an evidence record that loads with status Error
type Rejection struct {
	ID     string
	Reason string
}

// recordFile is the on-disk layout. JSON files parse as YAML.
type recordFile struct {
	Promises []model.Promise `yaml:"promises"`
	Evidence []evidenceRecord `yaml:"evidence"`
}

// evidenceRecord keeps source type and date as raw strings so one bad record
// does not fail the whole file
type evidenceRecord struct {
	ID                  string   `yaml:"id"`
	Title               string   `yaml:"title"`
	Description         string   `yaml:"description"`
	BillNumber          string   `yaml:"bill_number"`
	BillLongTitle       string   `yaml:"bill_long_title"`
	BillSummary         string   `yaml:"bill_summary"`
	SourceType          string   `yaml:"source_type"`
	Date                string   `yaml:"date"`
	ParliamentSessionID string   `yaml:"parliament_session_id"`
	Departments         []string `yaml:"departments"`
	KeyConcepts         []string `yaml:"key_concepts"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ReadRecords parses a JSON or YAML record file with top-level "promises" and
// "evidence" lists. Records without an id are an error; evidence with an
// unknown source type or date is kept and reported in Rejected.
func ReadRecords(path string) (*RecordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return ParseRecords(data)
}

// ParseRecords parses record file content
func ParseRecords(data []byte) (*RecordSet, error) {
	var file recordFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}

	set := &RecordSet{Promises: file.Promises}
	for i, p := range file.Promises {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("promise #%d: missing id", i+1)
		}
	}

	for i, raw := range file.Evidence {
		if strings.TrimSpace(raw.ID) == "" {
			return nil, fmt.Errorf("evidence #%d: missing id", i+1)
		}

		e := model.EvidenceItem{
			ID:                  raw.ID,
			Title:               raw.Title,
			Description:         raw.Description,
			BillNumber:          raw.BillNumber,
			BillLongTitle:       raw.BillLongTitle,
			BillSummary:         raw.BillSummary,
			ParliamentSessionID: raw.ParliamentSessionID,
			Departments:         raw.Departments,
			KeyConcepts:         raw.KeyConcepts,
		}

		var reasons []string
		if raw.SourceType != "" {
			st, err := model.ParseSourceType(raw.SourceType)
			if err != nil {
				reasons = append(reasons, err.Error())
			}
			e.SourceType = st
		}
		if raw.Date != "" {
			d, err := parseDate(raw.Date)
			if err != nil {
				reasons = append(reasons, err.Error())
			}
			e.Date = d
		}

		set.Evidence = append(set.Evidence, e)
		if len(reasons) > 0 {
			set.Rejected = append(set.Rejected, Rejection{ID: e.ID, Reason: strings.Join(reasons, "; ")})
		}
	}

	return set, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
