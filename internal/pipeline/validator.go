package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

// Validator is a pure, deterministic check of a pass's results against the
// schema's required flags and the confidence threshold. It makes no
// external calls; repeated invocation on the same result set yields
// identical record content (timestamp aside).
type Validator struct {
	// Threshold marks any field with lower confidence invalid,
	// required or not.
	Threshold float64
}

// Validate stamps per-field validity onto results and produces the pass's
// ValidationRecord. The action distinguishes a first-pass validate from a
// post-repair one.
func (v Validator) Validate(compiled *schema.Compiled, jobID uuid.UUID, pass int, action constants.ValidationAction, results []entity.FieldResult) *entity.ValidationRecord {
	fieldErrors := make(map[string][]string)
	var repairFields []string

	for i := range results {
		r := &results[i]
		spec, known := compiled.Field(r.FieldName)

		var reasons []string
		if known && spec.Required && r.IsNull() {
			reasons = append(reasons, "required field is null")
		}
		if r.Confidence < v.Threshold {
			reasons = append(reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", r.Confidence, v.Threshold))
		}

		r.IsValid = len(reasons) == 0
		r.ValidationErrors = reasons
		if !r.IsValid {
			fieldErrors[r.FieldName] = reasons
			repairFields = append(repairFields, r.FieldName)
		}
	}

	return &entity.ValidationRecord{
		JobID:        jobID,
		Pass:         pass,
		Action:       action,
		IsValid:      len(repairFields) == 0,
		FieldErrors:  fieldErrors,
		RepairFields: repairFields,
	}
}
