package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

type envelope struct {
	Fields map[string]FieldValue `json:"fields"`
}

// ParseEnvelope parses the model's content into per-field values, with
// lightweight recovery for markdown code fences and surrounding prose.
// A payload that cannot be parsed is a schema violation.
func ParseEnvelope(content string) (map[string]FieldValue, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty completion", common.ErrSchemaViolation)
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, cand := range candidates {
		var env envelope
		dec := json.NewDecoder(strings.NewReader(cand))
		if err := dec.Decode(&env); err != nil {
			lastErr = err
			continue
		}
		if env.Fields == nil {
			// Accept a bare {name: {value,...}} object as a fallback.
			var bare map[string]FieldValue
			if err := json.Unmarshal([]byte(cand), &bare); err == nil && len(bare) > 0 {
				return bare, nil
			}
			lastErr = fmt.Errorf("missing fields object")
			continue
		}
		return env.Fields, nil
	}
	return nil, fmt.Errorf("%w: %v", common.ErrSchemaViolation, lastErr)
}

// stripCodeFences removes a surrounding ```json … ``` fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractJSONCandidate pulls the outermost {...} span out of surrounding
// text.
func extractJSONCandidate(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
