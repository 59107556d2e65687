package invoxy

import (
	"fmt"
	"slices"
	"time"

	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// BackoffKind selects how inter-attempt delays grow.
type BackoffKind string

const (
	BackoffNone        BackoffKind = "none"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy bounds the retry loop for one tool. MaxRetries is the number of
// retries after the initial attempt, so MaxRetries+1 attempts total. Only
// failures whose code appears in RetryableErrors are retried.
type RetryPolicy struct {
	MaxRetries      int
	Backoff         BackoffKind
	BaseDelay       time.Duration
	RetryableErrors []Code
}

// Retryable reports whether a failure with the given code may be retried.
func (p *RetryPolicy) Retryable(code Code) bool {
	return slices.Contains(p.RetryableErrors, code)
}

// Delay returns the wait before retrying after the given failed attempt
// (1-based): none yields 0, linear base×attempt, exponential base×2^(attempt−1).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffLinear:
		return p.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		return p.BaseDelay * time.Duration(1<<(attempt-1))
	default:
		return 0
	}
}

// RateLimitPolicy is a steady-rate admission budget with a burst allowance on
// top. A policy of {1, 0} admits one call per second and nothing more.
type RateLimitPolicy struct {
	MaxCallsPerSecond float64
	BurstAllowance    int
}

// HookRef names a hook: either a registered name, or an explicit
// {Module, Export} pair that only resolves when the module path is
// allow-listed. The two forms are exclusive.
type HookRef struct {
	Name   string
	Module string
	Export string
}

// String renders the reference for log and error messages.
func (r *HookRef) String() string {
	if r == nil {
		return "<none>"
	}
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s#%s", r.Module, r.Export)
}

// TaskDefinition (TSD) is the declarative policy bundle for one tool name,
// loaded once at startup and immutable afterwards. A tool without a
// TaskDefinition skips every pipeline stage except execution.
type TaskDefinition struct {
	ToolName          string
	Retry             *RetryPolicy
	Timeout           time.Duration // per attempt; the handler is not forcibly killed past it, only abandoned
	InputValidation   map[string]any
	PreHook           *HookRef
	PostHook          *HookRef
	FallbackTool      string
	RequiresElevation bool
	RateLimits        *RateLimitPolicy

	validator *jsv.Schema // compiled from InputValidation at load time
	required  []string    // top-level required keys, reported as MISSING_ARGUMENT
}

// CompileValidation compiles InputValidation into the definition's validator.
// Loaders call this once; definitions built in code need it only when they
// carry a stricter schema.
func (d *TaskDefinition) CompileValidation() error {
	if d.InputValidation == nil {
		return nil
	}
	schema, err := CompileSchema(d.InputValidation)
	if err != nil {
		return fmt.Errorf("tool %s: compile input validation: %w", d.ToolName, err)
	}
	d.validator = schema
	if req, ok := d.InputValidation["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				d.required = append(d.required, s)
			}
		}
	}
	return nil
}
