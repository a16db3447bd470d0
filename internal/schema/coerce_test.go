package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	compiled, err := Compile(invoiceSchema())
	require.NoError(t, err)

	tests := []struct {
		name    string
		field   string
		in      string
		want    string
		wantErr bool
	}{
		{name: "string", field: "vendor", in: `"Acme"`, want: `"Acme"`},
		{name: "string from number", field: "vendor", in: `42`, wantErr: true},
		{name: "number", field: "total", in: `12.5`, want: `12.5`},
		{name: "quoted number", field: "total", in: `" 12.5 "`, want: `12.5`},
		{name: "unparseable number", field: "total", in: `"twelve"`, wantErr: true},
		{name: "integer", field: "line_count", in: `3`, want: `3`},
		{name: "quoted integer", field: "line_count", in: `"3"`, want: `3`},
		{name: "fractional integer", field: "line_count", in: `3.5`, wantErr: true},
		{name: "boolean", field: "paid", in: `true`, want: `true`},
		{name: "boolean from string", field: "paid", in: `"true"`, wantErr: true},
		{name: "array", field: "tags", in: `["a",1,true]`, want: `["a",1,true]`},
		{name: "array of objects", field: "tags", in: `[{"x":1}]`, wantErr: true},
		{name: "null always allowed", field: "vendor", in: `null`, want: `null`},
		{name: "empty is null", field: "vendor", in: ``, want: `null`},
		{name: "unknown field", field: "nope", in: `1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := compiled.Coerce(tt.field, json.RawMessage(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}
