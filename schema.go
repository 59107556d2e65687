package invoxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	invopop "github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// Validatable is implemented by argument structs that need custom business
// validation beyond the JSON Schema. Called after schema validation and
// unmarshaling.
type Validatable interface {
	Validate() error
}

// CompileSchema compiles a raw JSON Schema map into a validator. The map is
// not mutated.
func CompileSchema(schemaMap map[string]any) (*jsv.Schema, error) {
	c := jsv.NewCompiler()
	if err := c.AddResource("schema.json", schemaMap); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// ValidateValue runs a compiled schema over an already-decoded JSON value and
// reports a VALIDATION_ERROR ToolError on violation.
func ValidateValue(schema *jsv.Schema, v any) error {
	if err := schema.Validate(v); err != nil {
		return &ToolError{
			Code:    CodeValidationError,
			Message: err.Error(),
			Details: map[string]any{"violations": violationList(err)},
		}
	}
	return nil
}

// violationList flattens a jsonschema validation error into leaf messages.
func violationList(err error) []string {
	var ve *jsv.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsv.ValidationError)
	walk = func(e *jsv.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// generateSchema produces a JSON Schema map and its compiled validator for
// type T. It is called once when building a handler operation. strict sets
// additionalProperties: false and marks every property required (OpenAI
// Structured Outputs compatibility).
func generateSchema[T any](strict bool) (map[string]any, *jsv.Schema, error) {
	r := &invopop.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var t T
	schema := r.Reflect(&t)
	if schema == nil {
		return nil, nil, errNilSchema
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, nil, err
	}
	stripSchemaIDs(schemaMap)
	if strict {
		applyStrictMode(schemaMap)
	}
	compiled, err := CompileSchema(schemaMap)
	if err != nil {
		return nil, nil, fmt.Errorf("compile generated schema: %w", err)
	}
	return schemaMap, compiled, nil
}

var errNilSchema = errors.New("schema reflection returned nil")

// walkSchema recursively visits every map node in the schema tree (including
// $defs and definitions).
func walkSchema(schemaMap map[string]any, visit func(map[string]any)) {
	if schemaMap == nil {
		return
	}
	visit(schemaMap)
	for _, val := range schemaMap {
		switch v := val.(type) {
		case map[string]any:
			walkSchema(v, visit)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					walkSchema(m, visit)
				}
			}
		}
	}
}

// applyStrictMode sets additionalProperties: false and requires all properties
// for every object in the schema.
func applyStrictMode(schemaMap map[string]any) {
	walkSchema(schemaMap, func(n map[string]any) {
		props, isObj := n["properties"].(map[string]any)
		if !isObj {
			return
		}
		n["additionalProperties"] = false
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		if len(keys) > 0 {
			required := make([]any, len(keys))
			for i, k := range keys {
				required[i] = k
			}
			n["required"] = required
		}
	})
}

// stripSchemaIDs removes $schema, id, and $id so resolution does not depend on
// them when the map is recompiled.
func stripSchemaIDs(schemaMap map[string]any) {
	walkSchema(schemaMap, func(n map[string]any) {
		delete(n, "$schema")
		delete(n, "id")
		delete(n, "$id")
	})
}
