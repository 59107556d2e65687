package invoxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Code identifies a failure kind. Codes are the join key between a failure and
// a retry policy's retryableErrors list, so they are stable strings rather
// than Go error values.
type Code string

// Failure codes. Parse-time codes (PARSE_ERROR, MALFORMED_CALL) are the only
// ones that can surface outside a ToolResult envelope; everything else always
// travels inside one.
const (
	CodeParseError        Code = "PARSE_ERROR"
	CodeMalformedCall     Code = "MALFORMED_CALL"
	CodeValidationError   Code = "VALIDATION_ERROR"
	CodeMissingArgument   Code = "MISSING_ARGUMENT"
	CodeUnknownTool       Code = "UNKNOWN_TOOL"
	CodeExecutionError    Code = "EXECUTION_ERROR"
	CodePathNotFound      Code = "PATH_NOT_FOUND"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeResourceInUse     Code = "RESOURCE_IN_USE"
	CodeSandboxViolation  Code = "SANDBOX_VIOLATION"
	CodeElevationDenied   Code = "ELEVATION_DENIED"
	CodeTimeout           Code = "TIMEOUT"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeHookError         Code = "HOOK_ERROR"
	CodeHookNotFound      Code = "HOOK_NOT_FOUND"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrMalformedCall marks a structural call whose payload could not be
	// interpreted. Raised by the router directly: no invocation exists yet, so
	// there is no result envelope to carry it.
	ErrMalformedCall = errors.New("malformed tool call")
	// ErrShutdown is reported when Invoke is called after Shutdown.
	ErrShutdown = errors.New("registry is shutting down")
	// ErrHookNotFound marks a hook reference that resolves to nothing.
	ErrHookNotFound = errors.New("hook not found")
	// ErrHookNotAllowed marks an inline hook reference whose module path is
	// not on the allow-list.
	ErrHookNotAllowed = errors.New("hook module not allow-listed")
)

// ToolError is the structured failure carried inside a ToolResult. Handlers
// may return one directly to control the code seen by retry policies.
type ToolError struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError builds a ToolError with the given code.
func NewToolError(code Code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

// Errorf builds a ToolError with a formatted message.
func Errorf(code Code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsToolError normalizes an arbitrary handler error into a ToolError.
// *ToolError passes through unchanged; well-known stdlib failures map to their
// taxonomy codes; everything else becomes EXECUTION_ERROR. The handler's
// message is kept verbatim so the invoking client can act on it.
func AsToolError(err error) *ToolError {
	var te *ToolError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &te):
		return te
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Code: CodeTimeout, Message: err.Error()}
	case errors.Is(err, fs.ErrNotExist):
		return &ToolError{Code: CodePathNotFound, Message: err.Error()}
	case errors.Is(err, fs.ErrPermission):
		return &ToolError{Code: CodeAccessDenied, Message: err.Error()}
	default:
		return &ToolError{Code: CodeExecutionError, Message: err.Error()}
	}
}

// panicError wraps a recovered panic value; used by Invoke and WithRecovery.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
