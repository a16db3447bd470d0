package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

func promptSchema() entity.ExtractionSchema {
	return entity.ExtractionSchema{
		Name:        "invoice",
		Description: "Invoice fields",
		Fields: []entity.FieldSpec{
			{Name: "vendor", Description: "vendor name", Type: constants.FieldTypeString, Required: true},
			{Name: "total", Description: "grand total", Type: constants.FieldTypeNumber},
		},
	}
}

func TestBuildExtractionPrompt(t *testing.T) {
	prompt, truncated := BuildExtractionPrompt(PromptInput{
		Schema:       promptSchema(),
		Context:      "amounts are in EUR",
		DocumentText: "Invoice from Acme, total 12.50",
	})
	assert.False(t, truncated)
	assert.Contains(t, prompt, "vendor (string, required)")
	assert.Contains(t, prompt, "total (number, optional)")
	assert.Contains(t, prompt, "amounts are in EUR")
	assert.Contains(t, prompt, "Invoice from Acme")
}

func TestBuildExtractionPromptPlaceholder(t *testing.T) {
	prompt, truncated := BuildExtractionPrompt(PromptInput{Schema: promptSchema()})
	assert.False(t, truncated)
	assert.Contains(t, prompt, DocumentPlaceholder)
}

func TestBuildExtractionPromptTruncates(t *testing.T) {
	doc := strings.Repeat("x", 10000)
	prompt, truncated := BuildExtractionPrompt(PromptInput{
		Schema:       promptSchema(),
		DocumentText: doc,
		CharBudget:   2000,
	})
	assert.True(t, truncated)
	assert.Less(t, len(prompt), 2200)
	assert.Contains(t, prompt, "…(truncated)")

	// Schema and context are never cut, even with an absurd budget.
	tiny, truncated := BuildExtractionPrompt(PromptInput{
		Schema:       promptSchema(),
		DocumentText: doc,
		CharBudget:   10,
	})
	assert.True(t, truncated)
	assert.Contains(t, tiny, "vendor (string, required)")
}

func TestBuildRepairPrompt(t *testing.T) {
	fields := []RepairField{
		{
			Spec:       entity.FieldSpec{Name: "total", Description: "grand total", Type: constants.FieldTypeNumber, Required: true},
			PriorValue: `"12.50 EUR"`,
			Reasons:    []string{"confidence 0.40 below threshold 0.70"},
		},
	}
	prompt, truncated := BuildRepairPrompt(PromptInput{
		Schema:       promptSchema(),
		DocumentText: "Invoice from Acme, total 12.50",
	}, fields)
	assert.False(t, truncated)
	assert.Contains(t, prompt, "Fields to re-extract: total")
	assert.Contains(t, prompt, `previous value: "12.50 EUR"`)
	assert.Contains(t, prompt, "confidence 0.40 below threshold 0.70")
	assert.NotContains(t, prompt, "vendor (")
}

func TestReformulateNote(t *testing.T) {
	note := ReformulateNote(2, "missing fields object")
	assert.Contains(t, note, "attempt 2")
	assert.Contains(t, note, "missing fields object")
}
