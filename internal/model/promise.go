package model

// Promise represents a tracked commitment attributed to a party or government
type Promise struct {
	ID                    string       `json:"id" yaml:"id"`
	Text                  string       `json:"text" yaml:"text"`                                   // Canonical commitment statement
	Description           string       `json:"description,omitempty" yaml:"description,omitempty"` // Optional elaboration
	Background            string       `json:"background,omitempty" yaml:"background,omitempty"`   // Optional context from platform documents
	ResponsibleDepartment string       `json:"responsible_department,omitempty" yaml:"responsible_department,omitempty"`
	Keywords              []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	PartyCode             string       `json:"party_code,omitempty" yaml:"party_code,omitempty"`
	ParliamentSessionID   string       `json:"parliament_session_id" yaml:"parliament_session_id"`
	LinkedEvidence        []LinkRecord `json:"linked_evidence,omitempty" yaml:"linked_evidence,omitempty"`

	Progress ProgressScore `json:"progress" yaml:"progress,omitempty"` // Derived from linked evidence, never an input
}

// HasLink reports whether the promise side carries a record for the evidence id
func (p Promise) HasLink(evidenceID string) bool {
	for _, rec := range p.LinkedEvidence {
		if rec.EvidenceID == evidenceID {
			return true
		}
	}
	return false
}
