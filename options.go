package invoxy

import (
	"time"

	"go.uber.org/zap"
)

// SessionConfig is the per-session configuration the pipeline consumes but
// does not own. The zero value is usable: hybrid parsing, no elevation
// pre-approval, default confidence floor, no global timeout.
type SessionConfig struct {
	// CallStyle declares how the model emits calls; empty means hybrid.
	CallStyle CallStyle
	// ElevationAllowlist names tools that may run elevated without the
	// process itself being elevated, when ElevationApproved is set.
	ElevationAllowlist []string
	// ElevationApproved is the session flag that activates the allow-list.
	ElevationApproved bool
	// ElevatedCheck overrides the process elevation probe (tests, non-POSIX).
	ElevatedCheck func() bool
	// MinConfidence is the heuristic confidence floor; 0 means the default.
	MinConfidence float64
	// GlobalTimeout bounds one whole Invoke including retries and fallback.
	GlobalTimeout time.Duration
	// ShutdownTimeout bounds the wait for in-flight invocations on shutdown;
	// consumed by transports and cmd wiring.
	ShutdownTimeout time.Duration
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	defs            map[string]*TaskDefinition
	hooks           *HookRegistry
	logger          *zap.Logger
	metrics         *Metrics
	limiterCapacity int
	limiterStale    time.Duration
}

// WithDefinitions supplies the task-specific definitions, keyed by tool name
// (as returned by LoadDefinitions).
func WithDefinitions(defs map[string]*TaskDefinition) Option {
	return func(o *registryOptions) {
		o.defs = defs
	}
}

// WithHooks supplies the hook registry used to resolve pre/post hook
// references.
func WithHooks(h *HookRegistry) Option {
	return func(o *registryOptions) {
		o.hooks = h
	}
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func WithLogger(l *zap.Logger) Option {
	return func(o *registryOptions) {
		o.logger = l
	}
}

// WithMetrics attaches prometheus metrics (see NewMetrics).
func WithMetrics(m *Metrics) Option {
	return func(o *registryOptions) {
		o.metrics = m
	}
}

// WithLimiterCapacity caps the number of per-tool rate-limiter entries kept
// before least-recently-used eviction kicks in.
func WithLimiterCapacity(n int) Option {
	return func(o *registryOptions) {
		o.limiterCapacity = n
	}
}

// WithLimiterStaleAfter sets the idle window after which a tool's rate-limit
// counter is swept.
func WithLimiterStaleAfter(d time.Duration) Option {
	return func(o *registryOptions) {
		o.limiterStale = d
	}
}
