// Package schema compiles a declarative field list into a typed validator
// usable both for prompting (the JSON-Schema text shown to the model) and
// for checking the shape of what comes back.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/entity"
)

// Compiled is the result of compiling an ExtractionSchema. Compilation is
// pure and deterministic: compiling the same schema twice yields
// behaviorally equivalent validators.
type Compiled struct {
	Schema entity.ExtractionSchema

	fields    map[string]entity.FieldSpec
	validator *jsonschema.Schema
	schemaMap map[string]any
}

// Compile validates the field list and builds the JSON-Schema validator.
// Fails with a schema error when field names are not unique, the field
// list is empty, or a type is outside the supported set.
func Compile(s entity.ExtractionSchema) (*Compiled, error) {
	if len(s.Fields) == 0 {
		return nil, common.NewAppError("SCHEMA_EMPTY", "schema has no fields", common.ErrSchema)
	}

	fields := make(map[string]entity.FieldSpec, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return nil, common.NewAppError("SCHEMA_FIELD_NAME", "field name is empty", common.ErrSchema)
		}
		if _, dup := fields[f.Name]; dup {
			return nil, common.NewAppError("SCHEMA_DUPLICATE_FIELD",
				fmt.Sprintf("duplicate field name %q", f.Name), common.ErrSchema)
		}
		if !constants.IsValidFieldType(string(f.Type)) {
			return nil, common.NewAppError("SCHEMA_FIELD_TYPE",
				fmt.Sprintf("field %q has unsupported type %q", f.Name, f.Type), common.ErrSchema)
		}
		fields[f.Name] = f
	}

	schemaMap := buildJSONSchema(s)
	validator, err := compileJSONSchema(schemaMap)
	if err != nil {
		return nil, common.NewAppError("SCHEMA_COMPILE", err.Error(), common.ErrSchema)
	}

	return &Compiled{
		Schema:    s,
		fields:    fields,
		validator: validator,
		schemaMap: schemaMap,
	}, nil
}

// Subset compiles a restriction of the schema to the named fields,
// for focused repair passes.
func (c *Compiled) Subset(names []string) (*Compiled, error) {
	return Compile(c.Schema.Subset(names))
}

// Field returns the spec for a named field.
func (c *Compiled) Field(name string) (entity.FieldSpec, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// PromptJSON renders the JSON-Schema text shown to the model.
func (c *Compiled) PromptJSON() string {
	b, _ := json.MarshalIndent(c.schemaMap, "", "  ")
	return string(b)
}

// ValidateValues checks a {field: value} document against the compiled
// validator. Shape only: required-field and confidence policy live in the
// pass validator.
func (c *Compiled) ValidateValues(values map[string]json.RawMessage) error {
	doc := make(map[string]any, len(values))
	for name, raw := range values {
		var v any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return common.WrapError(err, fmt.Sprintf("field %q: decode value", name))
			}
		}
		doc[name] = v
	}
	if err := c.validator.Validate(doc); err != nil {
		return common.WrapError(err, "values do not match schema")
	}
	return nil
}

// buildJSONSchema returns the schema as a generic map, draft 2020-12
// subset. Every field is listed as required so the model must answer each
// one; every value admits null so a genuinely absent datum is a validation
// outcome rather than a shape error.
func buildJSONSchema(s entity.ExtractionSchema) map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := make([]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = fieldProp(f)
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":                 "object",
		"title":                s.Name,
		"description":          s.Description,
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func fieldProp(f entity.FieldSpec) map[string]any {
	prop := map[string]any{
		"type":        []any{jsonType(f.Type), "null"},
		"description": f.Description,
	}
	switch f.Type {
	case constants.FieldTypeArray:
		prop["items"] = map[string]any{
			"type": []any{"string", "number", "integer", "boolean"},
		}
	case constants.FieldTypeObject:
		prop["additionalProperties"] = true
	}
	if f.Example != nil {
		prop["examples"] = []any{f.Example}
	}
	return prop
}

func jsonType(t constants.FieldType) string {
	// FieldType names match JSON-Schema primitive type names.
	return string(t)
}

func compileJSONSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}
