package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dpmorr/llm-structured-extraction/constants"
)

// Coerce parses a raw JSON value into the field's declared type and
// returns it re-encoded in normalized form. Null is accepted for every
// field; whether null is acceptable for a required field is the pass
// validator's concern.
func (c *Compiled) Coerce(fieldName string, raw json.RawMessage) (json.RawMessage, error) {
	spec, ok := c.fields[fieldName]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", fieldName)
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("field %q: decode value: %w", fieldName, err)
	}
	if v == nil {
		return json.RawMessage("null"), nil
	}

	out, err := coerceValue(spec.Type, v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", fieldName, err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("field %q: encode value: %w", fieldName, err)
	}
	return b, nil
}

func coerceValue(t constants.FieldType, v any) (any, error) {
	switch t {
	case constants.FieldTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil

	case constants.FieldTypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			// Models occasionally quote numbers; accept a clean parse.
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}

	case constants.FieldTypeInteger:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected whole number, got %v", n)
			}
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", n)
			}
			return i, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}

	case constants.FieldTypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil

	case constants.FieldTypeArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", v)
		}
		for i, item := range arr {
			switch item.(type) {
			case string, float64, bool:
			default:
				return nil, fmt.Errorf("array item %d: expected scalar, got %T", i, item)
			}
		}
		return arr, nil

	case constants.FieldTypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported type %q", t)
}
