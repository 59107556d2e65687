package invoxy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Parser source constants for CallMeta.Parser.
const (
	ParserStructural = "structural"
	ParserHeuristic  = "heuristic"
	ParserFallback   = "fallback"
	ParserAPI        = "api"
)

// ActionHandler is the contract for a capability provider. One handler may
// expose several call schemas (operations); Execute dispatches on the tool
// name. Handlers are provider-agnostic and register before the first Invoke.
type ActionHandler interface {
	Name() string
	// Schemas returns the call schemas this handler exposes. Each schema name
	// is indexed separately in the Registry.
	Schemas() []CallSchema
	// Execute runs one operation. A returned *ToolError keeps its code; any
	// other error is normalized by AsToolError. Execute must honor ctx
	// cancellation promptly if it wants per-attempt timeouts to stop it.
	Execute(ctx context.Context, toolName string, args *Args) (json.RawMessage, error)
}

// CallSchema describes one callable operation (compatible with LLM tool
// definitions).
type CallSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Invocation is a single execution request: a resolved (tool, arguments,
// metadata) triple. Invocations are ephemeral; one Invoke consumes one
// Invocation. Hooks only ever rewrite a copy of Args.
type Invocation struct {
	Tool string
	Args *Args
	Meta CallMeta
}

// CallMeta carries provenance for one invocation. CorrelationID is opaque to
// the pipeline and only threaded through for external tracing. Confidence is
// set by the heuristic extractor only.
type CallMeta struct {
	Raw           string
	Parser        string
	Confidence    float64
	CreatedAt     time.Time
	CorrelationID string
	FallbackDepth int
}

// normalized fills defaults: creation time, parser source, and a generated
// correlation id when the caller did not supply one.
func (m CallMeta) normalized() CallMeta {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Parser == "" {
		m.Parser = ParserAPI
	}
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	return m
}

// ToolResult is the single outcome of one Invoke. OK and Error are mutually
// exclusive. Duration covers the final execution attempt; stage failures that
// never reach the handler report a zero duration. Attempts counts handler
// attempts made (0 when admission or a pre-execution stage short-circuited).
type ToolResult struct {
	OK       bool            `json:"ok"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    *ToolError      `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
	Attempts int             `json:"attempts"`
}

// Success builds a success result with the given payload.
func Success(payload json.RawMessage) ToolResult {
	return ToolResult{OK: true, Payload: payload}
}

// Failure builds a failure result carrying a ToolError with the given code.
func Failure(code Code, message string) ToolResult {
	return ToolResult{Error: &ToolError{Code: code, Message: message}}
}

// failure is the internal shorthand used by pipeline stages.
func failure(code Code, message string) ToolResult {
	return Failure(code, message)
}
