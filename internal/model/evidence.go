package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownSourceType is returned when a source type string maps to no known kind
var ErrUnknownSourceType = errors.New("unknown source type")

// SourceType classifies the kind of government action an evidence item records.
// It is a closed set; threshold lookups are indexed by it.
type SourceType int

const (
	SourceOther          SourceType = iota // Anything not covered below
	SourceNewsRelease                      // Departmental news releases and backgrounders
	SourceBillEvent                        // LEGISinfo bill stage events
	SourceRegulation                       // Canada Gazette Part II regulations
	SourceOrderInCouncil                   // Orders in Council

	numSourceTypes
)

// SourceTypes lists every source type in index order
func SourceTypes() []SourceType {
	out := make([]SourceType, 0, numSourceTypes)
	for st := SourceOther; st < numSourceTypes; st++ {
		out = append(out, st)
	}
	return out
}

// NumSourceTypes is the size of tables indexed by SourceType
const NumSourceTypes = int(numSourceTypes)

func (s SourceType) String() string {
	switch s {
	case SourceNewsRelease:
		return "news_release"
	case SourceBillEvent:
		return "bill_event"
	case SourceRegulation:
		return "regulation"
	case SourceOrderInCouncil:
		return "order_in_council"
	default:
		return "other"
	}
}

// Valid reports whether s is one of the declared source types
func (s SourceType) Valid() bool {
	return s >= SourceOther && s < numSourceTypes
}

// ParseSourceType maps a source type name (or a common alias seen in upstream feeds)
// to a SourceType.
func ParseSourceType(raw string) (SourceType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_", "(", "", ")", "").Replace(key)

	switch key {
	case "news_release", "newsrelease", "news", "backgrounder", "news_release_canada.ca":
		return SourceNewsRelease, nil
	case "bill_event", "billevent", "bill", "bill_event_legisinfo", "legisinfo":
		return SourceBillEvent, nil
	case "regulation", "regulations", "canada_gazette_part_ii", "gazette", "gazette_ii":
		return SourceRegulation, nil
	case "order_in_council", "orderincouncil", "oic", "order":
		return SourceOrderInCouncil, nil
	case "other":
		return SourceOther, nil
	}
	return SourceOther, fmt.Errorf("%w: %q", ErrUnknownSourceType, raw)
}

// MarshalText encodes the source type by name
func (s SourceType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a source type name or alias
func (s *SourceType) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LinkingStatus tracks where an evidence item is in the linking state machine
type LinkingStatus string

const (
	StatusPending    LinkingStatus = "pending"    // Eligible for linking
	StatusProcessing LinkingStatus = "processing" // Claimed by a run that has not committed yet
	StatusProcessed  LinkingStatus = "processed"  // All candidates resolved, zero or more links
	StatusError      LinkingStatus = "error"      // Unrecoverable input problem, needs a reset
)

// EvidenceItem represents a discrete government action considered as proof of progress
type EvidenceItem struct {
	ID            string     `json:"id" yaml:"id"`
	Title         string     `json:"title" yaml:"title"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"` // May carry HTML markup from the source page
	BillNumber    string     `json:"bill_number,omitempty" yaml:"bill_number,omitempty"`
	BillLongTitle string     `json:"bill_long_title,omitempty" yaml:"bill_long_title,omitempty"`
	BillSummary   string     `json:"bill_summary,omitempty" yaml:"bill_summary,omitempty"`
	SourceType    SourceType `json:"source_type" yaml:"source_type"`
	Date          time.Time  `json:"date" yaml:"date"`

	ParliamentSessionID string   `json:"parliament_session_id" yaml:"parliament_session_id"`
	Departments         []string `json:"departments,omitempty" yaml:"departments,omitempty"`
	KeyConcepts         []string `json:"key_concepts,omitempty" yaml:"key_concepts,omitempty"`

	LinkingStatus  LinkingStatus `json:"linking_status" yaml:"linking_status,omitempty"`
	LinkingError   string        `json:"linking_error,omitempty" yaml:"linking_error,omitempty"`
	LinkedPromises []LinkRecord  `json:"linked_promises,omitempty" yaml:"linked_promises,omitempty"`
	LinkedAt       *time.Time    `json:"linked_at,omitempty" yaml:"linked_at,omitempty"`
}

// HasLink reports whether the evidence side carries a record for the promise id
func (e EvidenceItem) HasLink(promiseID string) bool {
	for _, rec := range e.LinkedPromises {
		if rec.PromiseID == promiseID {
			return true
		}
	}
	return false
}
