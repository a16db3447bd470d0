package constants

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeInteger FieldType = "integer"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

// FieldTypes lists the supported field types in a stable order.
var FieldTypes = []FieldType{
	FieldTypeString,
	FieldTypeNumber,
	FieldTypeInteger,
	FieldTypeBoolean,
	FieldTypeArray,
	FieldTypeObject,
}

// IsValidFieldType reports whether t names a supported type.
func IsValidFieldType(t string) bool {
	for _, v := range FieldTypes {
		if string(v) == t {
			return true
		}
	}
	return false
}
