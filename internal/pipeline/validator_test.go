package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
	"github.com/dpmorr/llm-structured-extraction/internal/schema"
)

func testCompiled(t *testing.T) *schema.Compiled {
	t.Helper()
	compiled, err := schema.Compile(entity.ExtractionSchema{
		Name: "invoice",
		Fields: []entity.FieldSpec{
			{Name: "vendor", Type: constants.FieldTypeString, Required: true},
			{Name: "total", Type: constants.FieldTypeNumber, Required: true},
			{Name: "notes", Type: constants.FieldTypeString},
		},
	})
	require.NoError(t, err)
	return compiled
}

func result(name string, value string, confidence float64) entity.FieldResult {
	return entity.FieldResult{
		FieldName:  name,
		Pass:       1,
		Value:      json.RawMessage(value),
		Confidence: confidence,
	}
}

func TestValidateAllValid(t *testing.T) {
	v := Validator{Threshold: 0.70}
	results := []entity.FieldResult{
		result("vendor", `"Acme"`, 0.95),
		result("total", `12.5`, 0.80),
		result("notes", `null`, 0.75),
	}
	rec := v.Validate(testCompiled(t), uuid.New(), 1, constants.ActionValidate, results)

	assert.True(t, rec.IsValid)
	assert.Empty(t, rec.RepairFields)
	for _, r := range results {
		assert.True(t, r.IsValid, r.FieldName)
	}
}

func TestValidateRequiredNullInvalidRegardlessOfConfidence(t *testing.T) {
	v := Validator{Threshold: 0.70}
	results := []entity.FieldResult{
		result("vendor", `null`, 0.99),
		result("total", `12.5`, 0.80),
		result("notes", `null`, 0.75),
	}
	rec := v.Validate(testCompiled(t), uuid.New(), 1, constants.ActionValidate, results)

	assert.False(t, rec.IsValid)
	assert.Equal(t, []string{"vendor"}, rec.RepairFields)
	assert.Contains(t, rec.FieldErrors["vendor"], "required field is null")
	assert.False(t, results[0].IsValid)
}

func TestValidateOptionalNullIsFine(t *testing.T) {
	v := Validator{Threshold: 0.70}
	results := []entity.FieldResult{
		result("vendor", `"Acme"`, 0.9),
		result("total", `1`, 0.9),
		result("notes", `null`, 0.71),
	}
	rec := v.Validate(testCompiled(t), uuid.New(), 1, constants.ActionValidate, results)
	assert.True(t, rec.IsValid)
}

func TestValidateConfidenceThreshold(t *testing.T) {
	v := Validator{Threshold: 0.70}
	results := []entity.FieldResult{
		result("vendor", `"Acme"`, 0.65),
		result("total", `12.5`, 0.75),
		result("notes", `"ok"`, 0.70),
	}
	rec := v.Validate(testCompiled(t), uuid.New(), 1, constants.ActionValidate, results)

	assert.False(t, rec.IsValid)
	assert.Equal(t, []string{"vendor"}, rec.RepairFields)
	assert.True(t, results[2].IsValid, "threshold is inclusive")
}

func TestValidateDeterministic(t *testing.T) {
	v := Validator{Threshold: 0.70}
	jobID := uuid.New()
	mk := func() []entity.FieldResult {
		return []entity.FieldResult{
			result("vendor", `null`, 0.2),
			result("total", `1`, 0.5),
			result("notes", `"x"`, 0.9),
		}
	}
	a := v.Validate(testCompiled(t), jobID, 1, constants.ActionValidate, mk())
	b := v.Validate(testCompiled(t), jobID, 1, constants.ActionValidate, mk())
	assert.Equal(t, a.FieldErrors, b.FieldErrors)
	assert.Equal(t, a.RepairFields, b.RepairFields)
	assert.Equal(t, a.IsValid, b.IsValid)
}
