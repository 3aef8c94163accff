package validate

import (
	"errors"
	"testing"

	"github.com/ppiankov/promiselink/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"no object", "no", "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.raw); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	schema, err := compileVerdictSchema()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	tests := []struct {
		name      string
		raw       string
		wantLevel model.RelevanceLevel
		wantErr   bool
	}{
		{"high", `{"is_directly_related": true, "relevance_level": "High", "rationale": " ok "}`, model.RelevanceHigh, false},
		{"not related underscore", `{"is_directly_related": false, "relevance_level": "not_related", "rationale": ""}`, model.RelevanceNotRelated, false},
		{"missing rationale", `{"is_directly_related": true, "relevance_level": "High"}`, "", true},
		{"wrong type", `{"is_directly_related": "yes", "relevance_level": "High", "rationale": "x"}`, "", true},
		{"unknown level", `{"is_directly_related": true, "relevance_level": "Very High", "rationale": "x"}`, "", true},
		{"truncated", `{"is_directly_related": true, "relevance_level": "Hi`, "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(schema, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict.RelevanceLevel != tt.wantLevel {
				t.Errorf("expected %s, got %s", tt.wantLevel, verdict.RelevanceLevel)
			}
		})
	}
}

func TestParseVerdict_TrimsRationale(t *testing.T) {
	schema, _ := compileVerdictSchema()
	verdict, err := parseVerdict(schema, `{"is_directly_related": true, "relevance_level": "Medium", "rationale": "  partial step  "}`)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Rationale != "partial step" {
		t.Errorf("expected trimmed rationale, got %q", verdict.Rationale)
	}
}
