package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var personSchema = json.RawMessage(`{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	}
}`)

func TestCheckSchema(t *testing.T) {
	v := NewJSONSchemaValidator()

	t.Run("accepts well-formed schema", func(t *testing.T) {
		assert.NoError(t, v.CheckSchema(personSchema))
	})

	t.Run("rejects malformed schema", func(t *testing.T) {
		assert.Error(t, v.CheckSchema(json.RawMessage(`{"type": 42}`)))
	})

	t.Run("rejects non-JSON definition", func(t *testing.T) {
		assert.Error(t, v.CheckSchema(json.RawMessage(`not json`)))
	})
}

func TestValidatePayload(t *testing.T) {
	v := NewJSONSchemaValidator()

	t.Run("valid payload yields no field errors", func(t *testing.T) {
		fields, err := v.ValidatePayload(personSchema, json.RawMessage(`{"name":"Ada","age":36}`))
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("invalid payload reports field locations", func(t *testing.T) {
		fields, err := v.ValidatePayload(personSchema, json.RawMessage(`{"age":-1}`))
		require.NoError(t, err)
		require.NotEmpty(t, fields)

		paths := make([]string, 0, len(fields))
		for _, f := range fields {
			paths = append(paths, f.Path)
		}
		assert.Contains(t, paths, "/age")
	})

	t.Run("non-JSON payload reports root failure", func(t *testing.T) {
		fields, err := v.ValidatePayload(personSchema, json.RawMessage(`{broken`))
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, "/", fields[0].Path)
	})
}
