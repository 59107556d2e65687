package invoxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// OpOption configures one builder operation.
type OpOption func(*opOptions)

type opOptions struct {
	strict bool
}

// WithStrict generates the operation schema in strict mode:
// additionalProperties: false and all properties required (OpenAI Structured
// Outputs compatibility).
func WithStrict() OpOption {
	return func(o *opOptions) {
		o.strict = true
	}
}

// HandlerBuilder assembles a multi-operation ActionHandler from typed Go
// functions. Schema generation errors accumulate and surface from Build, so
// call sites can chain operations without per-call error handling.
type HandlerBuilder struct {
	name string
	ops  map[string]*opEntry
	list []string
	err  error
}

type opEntry struct {
	schema CallSchema
	run    func(ctx context.Context, args *Args) (json.RawMessage, error)
}

// NewHandler starts a builder for a handler with the given name.
func NewHandler(name string) *HandlerBuilder {
	return &HandlerBuilder{name: name, ops: make(map[string]*opEntry)}
}

// Op adds a typed operation: the schema for T is generated by reflection,
// incoming arguments are validated against it and unmarshaled into T, and the
// function's result is marshaled as the payload. Argument structs may
// implement Validatable for business validation after the schema passes.
func Op[T any, R any](
	b *HandlerBuilder,
	opName, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...OpOption,
) *HandlerBuilder {
	if b.err != nil {
		return b
	}
	var o opOptions
	for _, opt := range opts {
		opt(&o)
	}
	schemaMap, compiled, err := generateSchema[T](o.strict)
	if err != nil {
		b.err = fmt.Errorf("op %s: %w", opName, err)
		return b
	}
	run := func(ctx context.Context, args *Args) (json.RawMessage, error) {
		in, err := decodeArgs[T](compiled, args)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(out)
		if err != nil {
			return nil, Errorf(CodeExecutionError, "marshal result: %v", err)
		}
		return payload, nil
	}
	return b.add(opName, description, schemaMap, run)
}

// OpRaw adds a dynamic operation from a raw JSON Schema map and a function
// that receives the validated arguments directly. Useful when the schema comes
// from configuration rather than a Go type.
func OpRaw(
	b *HandlerBuilder,
	opName, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, args *Args) (json.RawMessage, error),
) *HandlerBuilder {
	if b.err != nil {
		return b
	}
	if schemaMap == nil {
		b.err = fmt.Errorf("op %s: schema map must not be nil", opName)
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("op %s: handler func must not be nil", opName)
		return b
	}
	compiled, err := CompileSchema(schemaMap)
	if err != nil {
		b.err = fmt.Errorf("op %s: compile schema: %w", opName, err)
		return b
	}
	run := func(ctx context.Context, args *Args) (json.RawMessage, error) {
		if err := ValidateValue(compiled, args.Map()); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
	return b.add(opName, description, schemaMap, run)
}

func (b *HandlerBuilder) add(opName, description string, schemaMap map[string]any, run func(context.Context, *Args) (json.RawMessage, error)) *HandlerBuilder {
	if _, exists := b.ops[opName]; exists {
		b.err = fmt.Errorf("op %s: already defined", opName)
		return b
	}
	b.ops[opName] = &opEntry{
		schema: CallSchema{Name: opName, Description: description, Parameters: schemaMap},
		run:    run,
	}
	b.list = append(b.list, opName)
	return b
}

// Build produces the ActionHandler, or the first accumulated error.
func (b *HandlerBuilder) Build() (ActionHandler, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.ops) == 0 {
		return nil, fmt.Errorf("handler %s: no operations defined", b.name)
	}
	return &builtHandler{name: b.name, ops: b.ops, order: b.list}, nil
}

// builtHandler is the ActionHandler produced by a HandlerBuilder. Execute
// dispatches on the operation name.
type builtHandler struct {
	name  string
	ops   map[string]*opEntry
	order []string
}

func (h *builtHandler) Name() string { return h.name }

func (h *builtHandler) Schemas() []CallSchema {
	out := make([]CallSchema, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.ops[name].schema)
	}
	return out
}

func (h *builtHandler) Execute(ctx context.Context, toolName string, args *Args) (json.RawMessage, error) {
	op, ok := h.ops[toolName]
	if !ok {
		return nil, Errorf(CodeUnknownTool, "handler %s has no operation %s", h.name, toolName)
	}
	if args == nil {
		args = NewArgs()
	}
	return op.run(ctx, args)
}

// decodeArgs validates args against the compiled schema, unmarshals them into
// T, and runs Validatable when implemented. Validation failures come back as
// VALIDATION_ERROR ToolErrors so the invoking client can self-correct.
func decodeArgs[T any](compiled *jsv.Schema, args *Args) (T, error) {
	var zero T
	if err := ValidateValue(compiled, args.Map()); err != nil {
		return zero, err
	}
	data, err := json.Marshal(args)
	if err != nil {
		return zero, Errorf(CodeValidationError, "encode arguments: %v", err)
	}
	var in T
	if err := json.Unmarshal(data, &in); err != nil {
		return zero, Errorf(CodeValidationError, "decode arguments: %v", err)
	}
	if err := runCustomValidation(in); err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return zero, te
		}
		return zero, Errorf(CodeValidationError, "%v", err)
	}
	return in, nil
}

// runCustomValidation runs Validatable.Validate on args; when T is a value
// type whose Validate has a pointer receiver, it retries on &args. Validate is
// never called twice on the same receiver.
func runCustomValidation[T any](args T) error {
	if v, ok := any(args).(Validatable); ok {
		return v.Validate()
	}
	typ := reflect.TypeOf(args)
	if typ == nil || typ.Kind() == reflect.Pointer {
		return nil
	}
	if v, ok := any(&args).(Validatable); ok {
		return v.Validate()
	}
	return nil
}
