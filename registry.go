package invoxy

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the single source of truth mapping tool names to handlers and
// the sole entry point for executing an invocation. It is constructed fully
// initialized: session configuration and definitions arrive through New, so
// there is no "used before init" state to guard at call time.
type Registry struct {
	mu          sync.Mutex
	handlers    map[string]ActionHandler // wrapped with middlewares, used by Invoke
	rawHandlers map[string]ActionHandler // unwrapped, used by Use to rewrap from scratch
	middlewares []Middleware
	defs        map[string]*TaskDefinition
	done        chan struct{}
	running     sync.WaitGroup

	cfg     SessionConfig
	router  *Router
	applier *applier
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a Registry for one session.
func New(cfg SessionConfig, opts ...Option) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.hooks == nil {
		o.hooks = NewHookRegistry()
	}
	if o.defs == nil {
		o.defs = make(map[string]*TaskDefinition)
	}
	limits := newLimiterStore(o.limiterCapacity, o.limiterStale)
	var routerOpts []RouterOption
	if cfg.MinConfidence > 0 {
		routerOpts = append(routerOpts, WithMinConfidence(cfg.MinConfidence))
	}
	return &Registry{
		handlers:    make(map[string]ActionHandler),
		rawHandlers: make(map[string]ActionHandler),
		defs:        o.defs,
		done:        make(chan struct{}),
		cfg:         cfg,
		router:      NewRouter(cfg.CallStyle, routerOpts...),
		applier:     newApplier(cfg, o.hooks, limits, o.logger, o.metrics),
		logger:      o.logger,
		metrics:     o.metrics,
	}
}

// Register indexes every schema the handler exposes under its own name.
// Re-registering an existing name overwrites with a warning, not an error, so
// hot-reload scenarios keep working. Stored middlewares are applied before
// registration.
func (r *Registry) Register(h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wrapped := h
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	for _, schema := range h.Schemas() {
		if prev, ok := r.rawHandlers[schema.Name]; ok {
			r.logger.Warn("tool re-registered, previous handler replaced",
				zap.String("tool", schema.Name),
				zap.String("previous_handler", prev.Name()),
				zap.String("handler", h.Name()))
		}
		r.rawHandlers[schema.Name] = h
		r.handlers[schema.Name] = wrapped
	}
}

// Use stores the middleware chain and reapplies it from scratch to every
// registered handler (onion order: first middleware is outermost). Handlers
// registered later get the same chain. Calling Use again replaces the chain
// and rewraps from the raw handlers, avoiding double-wrapping.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawHandlers {
		h := raw
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		r.handlers[name] = h
	}
}

// Resolve returns the handler registered for the exact tool name.
func (r *Registry) Resolve(name string) (ActionHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Schemas returns every registered call schema sorted by name, for export to
// transports and LLM providers.
func (r *Registry) Schemas() []CallSchema {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]CallSchema)
	for name, h := range r.rawHandlers {
		for _, schema := range h.Schemas() {
			if schema.Name == name {
				seen[name] = schema
			}
		}
	}
	out := make([]CallSchema, 0, len(seen))
	for _, schema := range seen {
		out = append(out, schema)
	}
	slices.SortFunc(out, func(a, b CallSchema) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Invoke executes one invocation through the full policy pipeline and always
// returns exactly one ToolResult: unknown tools, handler panics, timeouts,
// and policy violations all come back as failure results, never as panics or
// errors.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) ToolResult {
	inv.Meta = inv.Meta.normalized()
	if inv.Args == nil {
		inv.Args = NewArgs()
	}

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return failure(CodeExecutionError, ErrShutdown.Error())
	default:
	}
	handler, ok := r.handlers[inv.Tool]
	if !ok {
		r.mu.Unlock()
		r.metrics.invocation(inv.Tool)
		res := failure(CodeUnknownTool, "no handler registered for "+inv.Tool)
		r.metrics.result(inv.Tool, res)
		return res
	}
	def := r.defs[inv.Tool]
	r.running.Add(1)
	r.mu.Unlock()
	defer r.running.Done()

	r.metrics.invocation(inv.Tool)
	if r.cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.GlobalTimeout)
		defer cancel()
	}

	exec := r.execClosure(handler, inv.Tool)
	fall := func(ctx context.Context, tool string, args *Args, meta CallMeta) ToolResult {
		return r.Invoke(ctx, Invocation{Tool: tool, Args: args, Meta: meta})
	}

	res := r.applier.run(ctx, inv, def, exec, fall)
	r.metrics.result(inv.Tool, res)
	r.logResult(inv, res)
	return res
}

// execClosure adapts one handler to the applier's exec contract: panics become
// failure results, errors are normalized through AsToolError, and the attempt
// duration is measured around the handler call.
func (r *Registry) execClosure(handler ActionHandler, tool string) execFunc {
	return func(ctx context.Context, args *Args) (res ToolResult) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				res = ToolResult{
					Error:    AsToolError(&panicError{p: p}),
					Duration: time.Since(start),
				}
				r.logger.Error("handler panicked",
					zap.String("tool", tool),
					zap.Any("panic", p))
			}
		}()
		payload, err := handler.Execute(ctx, tool, args)
		dur := time.Since(start)
		if err != nil {
			return ToolResult{Error: AsToolError(err), Duration: dur}
		}
		return ToolResult{OK: true, Payload: payload, Duration: dur}
	}
}

// Dispatch routes raw model output and invokes every extracted call in order.
// It returns the results, the leftover text, and a parse error when the
// structural extractor found a malformed call (the one failure mode with no
// result envelope to carry it).
func (r *Registry) Dispatch(ctx context.Context, raw string) ([]ToolResult, string, error) {
	invs, leftover, err := r.router.Parse(raw)
	if err != nil {
		return nil, "", err
	}
	results := make([]ToolResult, 0, len(invs))
	for _, inv := range invs {
		results = append(results, r.Invoke(ctx, inv))
	}
	return results, leftover, nil
}

// Router exposes the registry's call router, for transports that parse
// streaming chunks themselves.
func (r *Registry) Router() *Router {
	return r.router
}

// Shutdown closes the registry for new invocations and waits for in-flight
// ones until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
		close(r.done)
	}
	r.mu.Unlock()
	finished := make(chan struct{})
	go func() {
		r.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logResult emits one structured line per completed invocation.
func (r *Registry) logResult(inv Invocation, res ToolResult) {
	fields := []zap.Field{
		zap.String("tool", inv.Tool),
		zap.String("parser", inv.Meta.Parser),
		zap.String("correlation_id", inv.Meta.CorrelationID),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
	}
	if res.OK {
		r.logger.Info("invocation succeeded", fields...)
		return
	}
	if res.Error != nil {
		fields = append(fields, zap.String("code", string(res.Error.Code)), zap.String("error", res.Error.Message))
	}
	r.logger.Info("invocation failed", fields...)
}
