package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/model"
)

// Progress levels
const (
	LevelNone        = 1 // No linked evidence
	LevelAnnounced   = 2 // News releases only
	LevelLegislation = 3 // A bill was introduced or debated
	LevelAdvanced    = 4 // A bill passed a chamber, or implementation with weak links
	LevelImplemented = 5 // Regulation, order in council or royal assent, strongly linked
)

var levelLabels = map[int]string{
	LevelNone:        "No progress",
	LevelAnnounced:   "Announced",
	LevelLegislation: "Legislation introduced",
	LevelAdvanced:    "Substantial progress",
	LevelImplemented: "Implemented",
}

// Label returns the human-readable name of a progress level
func Label(level int) string {
	if l, ok := levelLabels[level]; ok {
		return l
	}
	return "Not scored"
}

// Stage phrases in bill events, checked from the most advanced down
var (
	assentPhrases = []string{"royal assent"}
	passedPhrases = []string{"third reading", "passed the house", "passed the senate", "passed by the senate", "report stage"}
)

// Scorer derives a promise's progress score from its linked evidence
type Scorer struct {
	strongConfidence float64 // Links under this cannot lift a promise to Implemented
	lowConfidence    float64 // Mean confidence under this raises a warning
	now              func() time.Time
}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{
		strongConfidence: 0.8,
		lowConfidence:    0.75,
		now:              time.Now,
	}
}

// Calculate scores a promise. linked holds the evidence items its link records
// point at; records whose evidence is missing are reported, not scored.
func (s *Scorer) Calculate(p model.Promise, linked []model.EvidenceItem) model.ProgressScore {
	byID := make(map[string]model.EvidenceItem, len(linked))
	for _, e := range linked {
		byID[e.ID] = e
	}

	var resolved []scoredLink
	var missing []string
	for _, rec := range p.LinkedEvidence {
		e, ok := byID[rec.EvidenceID]
		if !ok {
			missing = append(missing, rec.EvidenceID)
			continue
		}
		resolved = append(resolved, scoredLink{record: rec, evidence: e, stage: stageOf(e)})
	}

	var signals []model.Signal

	// 1. Evidence volume
	signals = append(signals, s.volumeSignal(resolved))

	// 2. Stage reached
	level, stageSignal := s.stageLevel(resolved)
	if stageSignal.Type != "" {
		signals = append(signals, stageSignal)
	}

	// 3. Link confidence
	if lowSignal := s.confidenceSignal(resolved); lowSignal.Type != "" {
		signals = append(signals, lowSignal)
	}

	// 4. Dangling link records
	if len(missing) > 0 {
		sort.Strings(missing)
		signals = append(signals, model.Signal{
			Type:        model.SignalUnresolvedLinks,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d linked evidence item(s) not found in the store", len(missing)),
			Data: map[string]interface{}{
				"evidence_ids": missing,
				"hint":         "run `promiselink audit --repair`",
			},
		})
	}

	return model.ProgressScore{
		Score:     level,
		Label:     Label(level),
		Summary:   s.summarize(level, resolved),
		Signals:   signals,
		ScoredAt:  s.now().UTC(),
		EvidenceN: len(resolved),
	}
}

type scoredLink struct {
	record   model.LinkRecord
	evidence model.EvidenceItem
	stage    int
}

// stageOf returns the level a single evidence item supports on its own
func stageOf(e model.EvidenceItem) int {
	switch e.SourceType {
	case model.SourceRegulation, model.SourceOrderInCouncil:
		return LevelImplemented
	case model.SourceBillEvent:
		text := strings.Join([]string{e.Title, extract.VisibleText(e.Description), extract.VisibleText(e.BillSummary)}, " ")
		for _, phrase := range assentPhrases {
			if extract.ContainsPhrase(text, phrase) {
				return LevelImplemented
			}
		}
		for _, phrase := range passedPhrases {
			if extract.ContainsPhrase(text, phrase) {
				return LevelAdvanced
			}
		}
		return LevelLegislation
	default:
		return LevelAnnounced
	}
}

// volumeSignal reports how much evidence backs the promise
func (s *Scorer) volumeSignal(links []scoredLink) model.Signal {
	if len(links) == 0 {
		return model.Signal{
			Type:        model.SignalEvidenceVolume,
			Severity:    model.SeverityCritical,
			Description: "No linked evidence",
			Data:        map[string]interface{}{"links": 0},
		}
	}

	bySource := make(map[string]int)
	for _, l := range links {
		bySource[l.evidence.SourceType.String()]++
	}

	severity := model.SeverityInfo
	if len(links) < 2 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalEvidenceVolume,
		Severity:    severity,
		Description: fmt.Sprintf("%d linked evidence item(s)", len(links)),
		Data: map[string]interface{}{
			"links":     len(links),
			"by_source": bySource,
		},
	}
}

// stageLevel picks the most advanced stage among the links. A link under the
// strong-confidence bar can support at most LevelAdvanced.
func (s *Scorer) stageLevel(links []scoredLink) (int, model.Signal) {
	if len(links) == 0 {
		return LevelNone, model.Signal{}
	}

	level := LevelNone
	var best scoredLink
	capped := 0
	for _, l := range links {
		stage := l.stage
		if stage == LevelImplemented && l.record.ConfidenceScore < s.strongConfidence {
			stage = LevelAdvanced
			capped++
		}
		if stage > level || (stage == level && l.record.ConfidenceScore > best.record.ConfidenceScore) {
			level = stage
			best = l
		}
	}

	data := map[string]interface{}{
		"level":             level,
		"evidence_id":       best.evidence.ID,
		"source_type":       best.evidence.SourceType.String(),
		"confidence":        best.record.ConfidenceScore,
		"capped_links":      capped,
		"strong_confidence": s.strongConfidence,
		"formula":           "max(stage(link)), implementation stages need confidence >= strong_confidence",
	}

	switch best.stage {
	case LevelImplemented:
		if level == LevelImplemented {
			return level, model.Signal{
				Type:        model.SignalImplementation,
				Severity:    model.SeverityInfo,
				Description: fmt.Sprintf("Implementation evidence: %s", best.evidence.Title),
				Data:        data,
			}
		}
		return level, model.Signal{
			Type:        model.SignalImplementation,
			Severity:    model.SeverityWarning,
			Description: "Implementation evidence linked with low confidence",
			Data:        data,
		}
	case LevelAdvanced, LevelLegislation:
		return level, model.Signal{
			Type:        model.SignalLegislative,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("Legislative activity: %s", best.evidence.Title),
			Data:        data,
		}
	default:
		return level, model.Signal{
			Type:        model.SignalAnnouncement,
			Severity:    model.SeverityWarning,
			Description: "Only announcements linked, no legislative or regulatory action",
			Data:        data,
		}
	}
}

// confidenceSignal warns when links sit mostly near the acceptance floor
func (s *Scorer) confidenceSignal(links []scoredLink) model.Signal {
	if len(links) == 0 {
		return model.Signal{}
	}

	sum := 0.0
	lowest := math.Inf(1)
	for _, l := range links {
		sum += l.record.ConfidenceScore
		lowest = math.Min(lowest, l.record.ConfidenceScore)
	}
	mean := sum / float64(len(links))
	if mean >= s.lowConfidence {
		return model.Signal{}
	}

	return model.Signal{
		Type:        model.SignalLowConfidence,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Mean link confidence %.2f below %.2f", mean, s.lowConfidence),
		Data: map[string]interface{}{
			"mean":      mean,
			"lowest":    lowest,
			"links":     len(links),
			"threshold": s.lowConfidence,
			"formula":   "sum(confidence) / links",
		},
	}
}

func (s *Scorer) summarize(level int, links []scoredLink) string {
	if len(links) == 0 {
		return "No evidence of progress has been linked yet."
	}

	latest := links[0].evidence
	for _, l := range links[1:] {
		if l.evidence.Date.After(latest.Date) {
			latest = l.evidence
		}
	}

	when := ""
	if !latest.Date.IsZero() {
		when = " on " + latest.Date.Format("2006-01-02")
	}
	return fmt.Sprintf("%s: %d linked item(s), latest %q%s.", Label(level), len(links), latest.Title, when)
}
