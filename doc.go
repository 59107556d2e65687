// Package invoxy turns raw LLM output into safe, policy-governed tool
// executions.
//
// # Overview
//
// Models emit tool calls as structured markers or free text. This package
// extracts them (structural first, heuristics as fallback), resolves the
// registered ActionHandler, and runs it under the declarative policy bundle of
// its TaskDefinition: rate limiting, elevation checks, stricter input
// validation, pre/post hooks, bounded retries with backoff, per-attempt
// timeouts, and fallback dispatch.
//
// Pipeline: raw text → Router → []Invocation → Registry.Invoke → policy
// stages → handler → ToolResult.
//
// # Key concepts
//
//   - One result per invocation: once an invocation exists, every failure —
//     panics included — travels inside a ToolResult with a machine-readable
//     code, never as an error escaping Invoke. Only a malformed structural
//     call at parse time is raised directly (ErrMalformedCall), because no
//     result envelope exists yet.
//   - Declarative policy: TaskDefinitions are loaded once from a directory and
//     are immutable for the session. A tool without one skips every stage but
//     execution.
//   - Fallback re-entry: a fallbackTool gets the full pipeline treatment of
//     its own definition, bounded by a depth guard.
//
// See ActionHandler, Invocation, ToolResult for the core types, and New /
// NewHandler / LoadDefinitions for setup.
//
// # Example
//
//	type Args struct{ City string `json:"city"` }
//	type Out struct{ Temp float64 `json:"temp"` }
//	h, err := invoxy.Op(invoxy.NewHandler("weather"), "get_weather", "Current temperature",
//	    func(_ context.Context, a Args) (Out, error) { return Out{Temp: 22.5}, nil },
//	).Build()
//	if err != nil { ... }
//	reg := invoxy.New(invoxy.SessionConfig{})
//	reg.Register(h)
//	results, leftover, err := reg.Dispatch(ctx, modelOutput)
package invoxy
