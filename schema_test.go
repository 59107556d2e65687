package invoxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 42})
	require.Error(t, err)
}

func TestValidateValue(t *testing.T) {
	schema, err := CompileSchema(map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer", "minimum": 0},
		},
	})
	require.NoError(t, err)

	require.NoError(t, ValidateValue(schema, map[string]any{"name": "ada", "age": 36}))

	err = ValidateValue(schema, map[string]any{"name": "ada", "age": -1})
	require.Error(t, err)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeValidationError, te.Code)
	violations, ok := te.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestViolationList_NonSchemaError(t *testing.T) {
	out := violationList(errors.New("plain failure"))
	assert.Equal(t, []string{"plain failure"}, out)
}

type reflected struct {
	Path    string `json:"path"`
	Verbose bool   `json:"verbose,omitempty"`
}

func TestGenerateSchema(t *testing.T) {
	schemaMap, compiled, err := generateSchema[reflected](false)
	require.NoError(t, err)
	require.NotNil(t, compiled)

	props, ok := schemaMap["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "verbose")
	assert.NotContains(t, schemaMap, "$schema", "ids are stripped so the map recompiles standalone")
	assert.NotContains(t, schemaMap, "$id")

	require.NoError(t, ValidateValue(compiled, map[string]any{"path": "/tmp"}))
	require.Error(t, ValidateValue(compiled, map[string]any{"path": 7}))
}

func TestGenerateSchema_Strict(t *testing.T) {
	schemaMap, compiled, err := generateSchema[reflected](true)
	require.NoError(t, err)

	assert.Equal(t, false, schemaMap["additionalProperties"])
	required, ok := schemaMap["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"path", "verbose"}, required)

	err = ValidateValue(compiled, map[string]any{"path": "/tmp"})
	require.Error(t, err, "strict mode requires every property")
	err = ValidateValue(compiled, map[string]any{"path": "/tmp", "verbose": true, "extra": 1})
	require.Error(t, err, "strict mode rejects unknown keys")
	require.NoError(t, ValidateValue(compiled, map[string]any{"path": "/tmp", "verbose": true}))
}

func TestApplyStrictMode_NestedObjects(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"outer": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"b": map[string]any{"type": "string"},
					"a": map[string]any{"type": "string"},
				},
			},
		},
	}
	applyStrictMode(schema)

	outer := schema["properties"].(map[string]any)["outer"].(map[string]any)
	assert.Equal(t, false, outer["additionalProperties"])
	assert.Equal(t, []any{"a", "b"}, outer["required"], "required keys come out sorted")
	assert.Equal(t, []any{"outer"}, schema["required"])
}
