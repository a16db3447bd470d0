package llm

import (
	"fmt"
	"strings"

	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// DocumentPlaceholder is substituted when the ingestion collaborator
// cannot supply the document text. The job proceeds regardless.
const DocumentPlaceholder = "Document text not available."

// PromptInput carries everything the prompt builders need.
type PromptInput struct {
	Schema       entity.ExtractionSchema
	Context      string
	DocumentText string
	// CharBudget caps the combined prompt length. Document text is
	// truncated from the tail first; schema and context are never
	// truncated.
	CharBudget int
}

// BuildSystemPrompt composes the system message for extraction calls.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a precise data extraction assistant. Extract information accurately from documents.",
		"Return ONLY JSON that matches the provided JSON Schema, wrapped as {\"fields\": {<name>: {\"value\": ..., \"confidence\": 0.0-1.0, \"source_text\": \"...\", \"page_number\": 1}}}.",
		"Report an honest confidence in [0,1] for every field.",
		"If a field cannot be determined from the document, use a null value and a low confidence.",
		"Include the exact source snippet the value came from in source_text when possible.",
	}
	return strings.Join(parts, " ")
}

// BuildExtractionPrompt builds the single pass-1 prompt covering all
// fields. Returns the prompt and whether the document text was truncated
// to fit the budget.
func BuildExtractionPrompt(in PromptInput) (string, bool) {
	var b strings.Builder
	b.WriteString("Extract structured information from the following document according to the schema.\n\n")
	b.WriteString("Schema: ")
	b.WriteString(in.Schema.Name)
	if in.Schema.Description != "" {
		b.WriteString(": ")
		b.WriteString(in.Schema.Description)
	}
	b.WriteString("\n\nFields:\n")
	for _, f := range in.Schema.Fields {
		writeFieldLine(&b, f)
	}
	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		b.WriteString("\nAdditional Context: ")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	b.WriteString("\nDocument Text:\n")

	doc, truncated := fitDocument(in.DocumentText, in.CharBudget, b.Len())
	b.WriteString(doc)
	b.WriteString("\n\nExtract every listed field. Use null for anything the document does not contain.")
	return b.String(), truncated
}

// RepairField describes one invalid field for a repair prompt.
type RepairField struct {
	Spec       entity.FieldSpec
	PriorValue string // JSON text of the previous pass's value
	Reasons    []string
}

// BuildRepairPrompt builds the focused prompt for passes 2..N, limited to
// the listed invalid fields.
func BuildRepairPrompt(in PromptInput, fields []RepairField) (string, bool) {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Spec.Name)
	}

	var b strings.Builder
	b.WriteString("Re-extract the following fields from the document. These fields had issues in the previous extraction.\n\n")
	b.WriteString("Fields to re-extract: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n\n")
	for _, f := range fields {
		writeFieldLine(&b, f.Spec)
		if f.PriorValue != "" {
			fmt.Fprintf(&b, "  previous value: %s\n", f.PriorValue)
		}
		if len(f.Reasons) > 0 {
			fmt.Fprintf(&b, "  problem: %s\n", strings.Join(f.Reasons, "; "))
		}
	}
	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		b.WriteString("\nAdditional Context: ")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	b.WriteString("\nDocument Text:\n")

	doc, truncated := fitDocument(in.DocumentText, in.CharBudget, b.Len())
	b.WriteString(doc)
	b.WriteString("\n\nRe-extract ONLY the listed fields and provide accurate values with honest confidence.")
	return b.String(), truncated
}

// ReformulateNote is appended to a prompt after a schema violation, to
// steer the next attempt toward the required shape.
func ReformulateNote(attempt int, violation string) string {
	return fmt.Sprintf(
		"\n\nIMPORTANT (attempt %d): your previous answer did not match the required JSON shape (%s). "+
			"Respond with a single JSON object of the form {\"fields\": {...}} and nothing else.",
		attempt, violation)
}

func writeFieldLine(b *strings.Builder, f entity.FieldSpec) {
	req := "optional"
	if f.Required {
		req = "required"
	}
	fmt.Fprintf(b, "- %s (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
}

// fitDocument tail-truncates the document text so used+len(doc) stays
// within the budget. A budget of 0 disables truncation.
func fitDocument(doc string, budget, used int) (string, bool) {
	if doc == "" {
		doc = DocumentPlaceholder
	}
	if budget <= 0 {
		return doc, false
	}
	remaining := budget - used
	if remaining <= 0 {
		return "…(document omitted: prompt budget exhausted)", true
	}
	if len(doc) <= remaining {
		return doc, false
	}
	return doc[:remaining] + "\n…(truncated)", true
}
