package llm

import (
	"context"
	"encoding/json"

	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// FieldValue is the model's answer for one field.
type FieldValue struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	SourceText string          `json:"source_text,omitempty"`
	PageNumber *int            `json:"page_number,omitempty"`
}

// Usage reports token consumption for one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionRequest asks a provider for one structured completion covering
// the given field subset.
type CompletionRequest struct {
	Fields      []entity.FieldSpec
	System      string
	Prompt      string
	SchemaJSON  string // JSON-Schema text shown to the model
	Model       string
	Temperature float32
	MaxTokens   int
}

// Completion is the uniform provider result: one FieldValue per answered
// field, token usage, and the raw response body for the audit trail.
type Completion struct {
	Fields map[string]FieldValue
	Usage  Usage
	Raw    json.RawMessage
}

// Completer abstracts the model provider. Implementations exist per
// provider but the contract is uniform. Errors are classified with
// common.ErrProviderRetryable (transient) or common.ErrSchemaViolation
// (unparseable payload); everything else is fatal for the attempt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}
