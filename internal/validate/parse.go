package validate

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/ppiankov/promiselink/internal/model"
)

//go:embed verdict.schema.json
var verdictSchemaJSON []byte

// ErrMalformedResponse marks classifier output that is not a valid verdict
var ErrMalformedResponse = errors.New("malformed classifier response")

func compileVerdictSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(verdictSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return schema, nil
}

// extractJSON strips code fences and any prose around the outermost JSON object
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end < start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}

// parseVerdict checks raw classifier output against the verdict schema and decodes it
func parseVerdict(schema *jsonschema.Schema, raw string) (*model.Verdict, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedResponse)
	}

	var probe any
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if result := schema.ValidateJSON([]byte(body)); !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrMalformedResponse, result.Errors)
	}

	var wire struct {
		IsDirectlyRelated bool   `json:"is_directly_related"`
		RelevanceLevel    string `json:"relevance_level"`
		Rationale         string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	level, err := model.ParseRelevanceLevel(wire.RelevanceLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &model.Verdict{
		IsDirectlyRelated: wire.IsDirectlyRelated,
		RelevanceLevel:    level,
		Rationale:         strings.TrimSpace(wire.Rationale),
	}, nil
}
