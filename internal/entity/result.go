package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
)

// FieldResult is one field's extracted value for one pass.
// Unique per (job, field_name, pass). Append-only: a result is never
// edited, only superseded by a later pass's row.
type FieldResult struct {
	ID        uuid.UUID           `json:"id"`
	JobID     uuid.UUID           `json:"job_id"`
	FieldName string              `json:"field_name"`
	FieldType constants.FieldType `json:"field_type"`
	Pass      int                 `json:"pass"`

	Value      json.RawMessage `json:"value"` // JSON-encoded, typed per FieldType; JSON null when absent
	Confidence float64         `json:"confidence"`
	SourceText string          `json:"source_text,omitempty"`
	PageNumber *int            `json:"page_number,omitempty"`

	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsNull reports whether the result carries no value.
func (r FieldResult) IsNull() bool {
	if len(r.Value) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return false
	}
	return v == nil
}

// CarryForward returns a copy of the result stamped for a later pass.
// The original row is left untouched.
func (r FieldResult) CarryForward(pass int) FieldResult {
	out := r
	out.ID = uuid.New()
	out.Pass = pass
	out.CreatedAt = time.Now().UTC()
	return out
}

// ValidationRecord is one append-only audit entry describing a
// validate/repair/retry action. Never deleted or mutated.
type ValidationRecord struct {
	ID     uuid.UUID                  `json:"id"`
	JobID  uuid.UUID                  `json:"job_id"`
	Pass   int                        `json:"pass_number"`
	Action constants.ValidationAction `json:"action"`

	IsValid      bool                `json:"is_valid"`
	FieldErrors  map[string][]string `json:"field_errors,omitempty"`
	RepairFields []string            `json:"repair_fields,omitempty"`

	RawResponse json.RawMessage `json:"raw_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
