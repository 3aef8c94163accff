package decide

import (
	"fmt"
	"sort"

	"github.com/ppiankov/promiselink/internal/model"
)

// ThresholdTable holds one threshold row per source type. Source types without
// an override use the default row.
type ThresholdTable struct {
	rows [model.NumSourceTypes]model.Thresholds
	def  model.Thresholds
}

// NewThresholdTable builds the table from config, keyed by source type name
func NewThresholdTable(cfg model.ThresholdConfig) (*ThresholdTable, error) {
	if err := checkRow("default", cfg.Default); err != nil {
		return nil, err
	}

	t := &ThresholdTable{def: cfg.Default}
	for i := range t.rows {
		t.rows[i] = cfg.Default
	}

	// Sorted so that two aliases of the same type resolve the same way every run
	keys := make([]string, 0, len(cfg.BySource))
	for k := range cfg.BySource {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		st, err := model.ParseSourceType(k)
		if err != nil {
			return nil, fmt.Errorf("thresholds.by_source: %w", err)
		}
		row := cfg.BySource[k]
		if err := checkRow(k, row); err != nil {
			return nil, err
		}
		t.rows[st] = row
	}
	return t, nil
}

// For returns the thresholds for a source type
func (t *ThresholdTable) For(st model.SourceType) model.Thresholds {
	if !st.Valid() {
		return t.def
	}
	return t.rows[st]
}

// Default returns the fallback row
func (t *ThresholdTable) Default() model.Thresholds {
	return t.def
}

func checkRow(name string, row model.Thresholds) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"semantic_floor", row.SemanticFloor},
		{"validator_floor", row.ValidatorFloor},
		{"bypass_ceiling", row.BypassCeiling},
	}
	for _, f := range fields {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("thresholds %s: %s %.3f outside [0,1]", name, f.name, f.value)
		}
	}
	if row.SemanticFloor > row.BypassCeiling {
		return fmt.Errorf("thresholds %s: semantic_floor %.3f above bypass_ceiling %.3f", name, row.SemanticFloor, row.BypassCeiling)
	}
	return nil
}
