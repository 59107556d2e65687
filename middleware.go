package invoxy

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps an ActionHandler with cross-cutting behavior (logging,
// recovery). Applied through Registry.Use.
type Middleware func(ActionHandler) ActionHandler

// WithLogging returns a middleware that logs start, end, duration, and errors
// of every handler call.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next ActionHandler) ActionHandler {
		return &loggingHandler{handlerBase: handlerBase{next: next}, logger: logger}
	}
}

// WithRecovery returns a middleware that converts handler panics into
// EXECUTION_ERROR failures at the handler boundary. Invoke recovers panics as
// well; this middleware exists for handlers called outside the registry.
func WithRecovery() Middleware {
	return func(next ActionHandler) ActionHandler {
		return &recoveryHandler{handlerBase{next: next}}
	}
}

// handlerBase delegates the ActionHandler surface to the wrapped handler.
type handlerBase struct{ next ActionHandler }

func (b *handlerBase) Name() string          { return b.next.Name() }
func (b *handlerBase) Schemas() []CallSchema { return b.next.Schemas() }

type loggingHandler struct {
	handlerBase
	logger *zap.Logger
}

func (h *loggingHandler) Execute(ctx context.Context, toolName string, args *Args) (json.RawMessage, error) {
	h.logger.Info("handler start", zap.String("tool", toolName))
	start := time.Now()
	payload, err := h.next.Execute(ctx, toolName, args)
	dur := time.Since(start)
	if err != nil {
		h.logger.Error("handler error",
			zap.String("tool", toolName),
			zap.Duration("duration", dur),
			zap.Error(err))
		return nil, err
	}
	h.logger.Info("handler end", zap.String("tool", toolName), zap.Duration("duration", dur))
	return payload, nil
}

type recoveryHandler struct{ handlerBase }

func (h *recoveryHandler) Execute(ctx context.Context, toolName string, args *Args) (payload json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			payload = nil
			err = &ToolError{Code: CodeExecutionError, Message: (&panicError{p: p}).Error()}
		}
	}()
	return h.next.Execute(ctx, toolName, args)
}
