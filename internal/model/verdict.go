package model

import (
	"fmt"
	"strings"
)

// RelevanceLevel is the ordinal relevance reported by the classifier
type RelevanceLevel string

const (
	RelevanceHigh       RelevanceLevel = "High"
	RelevanceMedium     RelevanceLevel = "Medium"
	RelevanceLow        RelevanceLevel = "Low"
	RelevanceNotRelated RelevanceLevel = "Not Related"
)

// Score maps the ordinal level onto [0,1] for comparison with the validator floor
func (r RelevanceLevel) Score() float64 {
	switch r {
	case RelevanceHigh:
		return 0.9
	case RelevanceMedium:
		return 0.7
	case RelevanceLow:
		return 0.4
	default:
		return 0
	}
}

// ParseRelevanceLevel accepts the level names case-insensitively ("not_related" and
// "NotRelated" included).
func ParseRelevanceLevel(raw string) (RelevanceLevel, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", "", " ", "", "-", "").Replace(key)
	switch key {
	case "high":
		return RelevanceHigh, nil
	case "medium":
		return RelevanceMedium, nil
	case "low":
		return RelevanceLow, nil
	case "notrelated", "none":
		return RelevanceNotRelated, nil
	}
	return "", fmt.Errorf("unknown relevance level %q", raw)
}

// Verdict is the parsed classifier output for one (evidence, promise) pair
type Verdict struct {
	IsDirectlyRelated bool           `json:"is_directly_related"`
	RelevanceLevel    RelevanceLevel `json:"relevance_level"`
	Rationale         string         `json:"rationale"`
}
