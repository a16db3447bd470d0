package entity

import (
	"github.com/dpmorr/llm-structured-extraction/constants"
)

// FieldSpec declares one named, typed, optionally-required datum to extract.
// Immutable once a job starts.
type FieldSpec struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Type        constants.FieldType `json:"type"`
	Required    bool                `json:"required"`
	Example     any                 `json:"example,omitempty"`
}

// ExtractionSchema is an ordered, uniquely-named set of fields plus
// descriptive metadata. Compiled once per job.
type ExtractionSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldSpec `json:"fields"`
}

// FieldNames returns the schema's field names in declaration order.
func (s ExtractionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Subset returns a copy of the schema restricted to the named fields,
// preserving declaration order. Unknown names are ignored.
func (s ExtractionSchema) Subset(names []string) ExtractionSchema {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := ExtractionSchema{Name: s.Name + "_subset", Description: s.Description}
	for _, f := range s.Fields {
		if want[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}
