package model

import "time"

// LinkMethod records how a link was accepted
type LinkMethod string

const (
	MethodSemanticBypass  LinkMethod = "semantic_bypass"  // Similarity at or above the bypass ceiling
	MethodLLMValidated    LinkMethod = "llm_validated"    // Confirmed by the relevance classifier
	MethodKeywordFallback LinkMethod = "keyword_fallback" // Keyword mode (no embedder) at or above the bypass ceiling
)

// LinkRecord is the association between one promise and one evidence item.
// The same record is embedded on both sides of the relation.
type LinkRecord struct {
	PromiseID       string     `json:"promise_id" yaml:"promise_id"`
	EvidenceID      string     `json:"evidence_id" yaml:"evidence_id"`
	ConfidenceScore float64    `json:"confidence_score" yaml:"confidence_score"` // In [0,1]
	Method          LinkMethod `json:"method" yaml:"method"`
	Rationale       string     `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
}

// Pair returns the (promise, evidence) identity of the record
func (r LinkRecord) Pair() LinkPair {
	return LinkPair{PromiseID: r.PromiseID, EvidenceID: r.EvidenceID}
}

// LinkPair identifies a link independent of its metadata
type LinkPair struct {
	PromiseID  string `json:"promise_id"`
	EvidenceID string `json:"evidence_id"`
}
