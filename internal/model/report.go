package model

import "time"

// RunSummary is the aggregate outcome of one linking run
type RunSummary struct {
	RunID               string        `json:"run_id"`
	Session             string        `json:"session,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
	DryRun              bool          `json:"dry_run"`
	PromisesLoaded      int           `json:"promises_loaded"`
	EvidenceSelected    int           `json:"evidence_selected"`
	EvidenceProcessed   int           `json:"evidence_processed"`   // Reached (or would reach) Processed
	CandidatesGenerated int           `json:"candidates_generated"` // Sum of ranked candidates over all items
	ValidatorCalls      int           `json:"validator_calls"`      // Pairs sent to the classifier
	ValidatorErrors     int           `json:"validator_errors"`     // Pairs whose validation failed after retries
	LinksCreated        int           `json:"links_created"`        // New pairs written (or would be written)
	Bypassed            int           `json:"bypassed"`             // Accepted without a validator call
	Errors              int           `json:"errors"`               // Items that failed (input, embedding, persistence)
	Aborted             string        `json:"aborted,omitempty"`    // Reason the run stopped early

	Preview []PreviewEntry `json:"preview,omitempty"` // Dry-run only
}

// PreviewEntry describes one candidate decision for manual audit
type PreviewEntry struct {
	EvidenceID     string         `json:"evidence_id"`
	EvidenceTitle  string         `json:"evidence_title"`
	SourceType     SourceType     `json:"source_type"`
	PromiseID      string         `json:"promise_id"`
	PromiseText    string         `json:"promise_text"`
	CombinedScore  float64        `json:"combined_score"`
	SemanticScore  float64        `json:"semantic_score"`
	KeywordScore   float64        `json:"keyword_score"`
	Outcome        string         `json:"outcome"`
	Accepted       bool           `json:"accepted"`
	Method         LinkMethod     `json:"method,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	RelevanceLevel RelevanceLevel `json:"relevance_level,omitempty"`
	Rationale      string         `json:"rationale,omitempty"`
}

// ProgressScore is the qualitative progress rating derived from linked evidence
type ProgressScore struct {
	Score     int       `json:"score"`             // 0 = not scored, 1 (no progress) .. 5 (implemented)
	Label     string    `json:"label,omitempty"`   // Human-readable label for Score
	Summary   string    `json:"summary,omitempty"` // One-line explanation
	Signals   []Signal  `json:"signals,omitempty"` // Transparent scoring data
	ScoredAt  time.Time `json:"scored_at,omitempty"`
	EvidenceN int       `json:"evidence_count"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"` // Formulas and inputs
}

// SignalType classifies the type of progress signal
type SignalType string

const (
	SignalEvidenceVolume  SignalType = "evidence_volume"  // How many linked items
	SignalImplementation  SignalType = "implementation"   // Regulations / orders in council
	SignalLegislative     SignalType = "legislative"      // Bill events
	SignalAnnouncement    SignalType = "announcement"     // News releases only
	SignalLowConfidence   SignalType = "low_confidence"   // Links mostly near the floor
	SignalUnresolvedLinks SignalType = "unresolved_links" // Linked evidence ids missing from the store
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
