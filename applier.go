package invoxy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxFallbackDepth bounds fallback re-entry. The declarative fallbackTool
// references can form a cycle (A→B→A); without a guard that cycle would
// recurse until the stack ran out. Past the limit the pre-fallback failure is
// returned.
const maxFallbackDepth = 4

// execFunc runs one handler attempt with the (possibly hook-rewritten)
// arguments. It must convert every handler fault, panics included, into a
// failure result; nothing may propagate past it.
type execFunc func(ctx context.Context, args *Args) ToolResult

// fallbackFunc re-enters the registry for a named fallback tool. The fallback
// gets its own full pipeline treatment: its own admission, hooks, retries.
type fallbackFunc func(ctx context.Context, tool string, args *Args, meta CallMeta) ToolResult

// applier is the execution policy state machine. It wraps one handler call in
// the seven-stage pipeline declared by a TaskDefinition: admission, elevation,
// validation, pre-hook, retry loop, post-hook, fallback. Every stage
// short-circuits to a failure result; the applier never panics or errors past
// its boundary.
type applier struct {
	cfg     SessionConfig
	hooks   *HookRegistry
	limits  *limiterStore
	logger  *zap.Logger
	metrics *Metrics

	// sleep is the retry-delay wait, replaceable by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newApplier(cfg SessionConfig, hooks *HookRegistry, limits *limiterStore, logger *zap.Logger, metrics *Metrics) *applier {
	return &applier{
		cfg:     cfg,
		hooks:   hooks,
		limits:  limits,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

// run executes the pipeline for one invocation. def may be nil: then every
// stage is skipped except the single execution attempt.
func (a *applier) run(ctx context.Context, inv Invocation, def *TaskDefinition, exec execFunc, fall fallbackFunc) ToolResult {
	if def == nil {
		res := exec(ctx, inv.Args)
		res.Attempts = 1
		return res
	}

	// Stage 1: admission. Rejection happens before any hook runs and counts
	// zero attempts.
	if def.RateLimits != nil && !a.limits.allow(inv.Tool, def.RateLimits) {
		a.metrics.rateLimited(inv.Tool)
		return failure(CodeRateLimitExceeded, "rate limit exceeded for "+inv.Tool)
	}

	// Stage 2: elevation.
	if def.RequiresElevation && !a.cfg.elevationGranted(inv.Tool) {
		return failure(CodeElevationDenied, "tool "+inv.Tool+" requires elevation")
	}

	// Stage 3: stricter input validation.
	if res, ok := a.validate(def, inv.Args); !ok {
		return res
	}

	// Stage 4: pre-hook. May rewrite a copy of the arguments; a throwing hook
	// aborts before any execution attempt.
	args := inv.Args
	if def.PreHook != nil {
		hs, err := a.hooks.Resolve(def.PreHook)
		if err != nil {
			return failure(CodeHookNotFound, err.Error())
		}
		if hs.Pre != nil {
			hc := &HookCtx{Tool: inv.Tool, Phase: PhasePre, Args: args.Clone(), Meta: inv.Meta}
			rewritten, err := hs.Pre(ctx, hc)
			if err != nil {
				return hookFailure(def.PreHook, PhasePre, err)
			}
			if rewritten != nil {
				args = rewritten
			}
		}
	}

	// Stage 5: retry loop.
	res := a.retryLoop(ctx, inv, def, args, exec)

	// Stage 6: post-hook. May rewrite the result arbitrarily, including
	// flipping success to failure.
	if def.PostHook != nil {
		hs, err := a.hooks.Resolve(def.PostHook)
		if err != nil {
			res = failure(CodeHookNotFound, err.Error())
		} else if hs.Post != nil {
			final := res
			hc := &HookCtx{Tool: inv.Tool, Phase: PhasePost, Args: args.Clone(), Result: &final, Meta: inv.Meta}
			rewritten, err := hs.Post(ctx, hc)
			if err != nil {
				res = hookFailure(def.PostHook, PhasePost, err)
			} else {
				res = rewritten
			}
		}
	}

	// Stage 7: fallback. The fallback result, after its own full pipeline,
	// becomes this invocation's result.
	if !res.OK && def.FallbackTool != "" {
		if inv.Meta.FallbackDepth >= maxFallbackDepth {
			a.logger.Warn("fallback depth exceeded",
				zap.String("tool", inv.Tool),
				zap.String("fallback", def.FallbackTool),
				zap.String("correlation_id", inv.Meta.CorrelationID))
			return res
		}
		a.metrics.fallback(inv.Tool)
		meta := inv.Meta
		meta.FallbackDepth++
		meta.Parser = ParserFallback
		return fall(ctx, def.FallbackTool, args, meta)
	}
	return res
}

// validate runs stage three. Missing required keys are reported as
// MISSING_ARGUMENT before the schema runs, so that failure mode keeps its
// dedicated code; everything else is a VALIDATION_ERROR with the violation
// list attached.
func (a *applier) validate(def *TaskDefinition, args *Args) (ToolResult, bool) {
	if def.validator == nil {
		return ToolResult{}, true
	}
	var missing []string
	for _, key := range def.required {
		if !args.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		res := failure(CodeMissingArgument, "missing required arguments")
		res.Error.Details = map[string]any{"missing": missing}
		return res, false
	}
	if err := ValidateValue(def.validator, args.Map()); err != nil {
		return ToolResult{Error: AsToolError(err)}, false
	}
	return ToolResult{}, true
}

// retryLoop runs up to MaxRetries+1 attempts, retrying only failures whose
// code is in the policy's retryable set, waiting the backoff delay between
// attempts. It stops early when ctx is done.
func (a *applier) retryLoop(ctx context.Context, inv Invocation, def *TaskDefinition, args *Args, exec execFunc) ToolResult {
	maxAttempts := 1
	if def.Retry != nil {
		maxAttempts = def.Retry.MaxRetries + 1
	}
	var res ToolResult
	for attempt := 1; ; attempt++ {
		res = a.attempt(ctx, def.Timeout, args, exec)
		res.Attempts = attempt
		if res.OK || def.Retry == nil || attempt >= maxAttempts {
			return res
		}
		if res.Error == nil || !def.Retry.Retryable(res.Error.Code) {
			return res
		}
		a.metrics.retry(inv.Tool)
		a.logger.Debug("retrying tool",
			zap.String("tool", inv.Tool),
			zap.Int("attempt", attempt),
			zap.String("code", string(res.Error.Code)),
			zap.String("correlation_id", inv.Meta.CorrelationID))
		if err := a.sleep(ctx, def.Retry.Delay(attempt)); err != nil {
			return res
		}
	}
}

// attempt races one handler call against the per-attempt timeout. On timeout
// the applier stops waiting and records a TIMEOUT failure; the handler
// goroutine keeps running to completion in the background and its eventual
// result is discarded. The attempt context is cancelled so handlers that honor
// ctx stop promptly, but nothing forces them to.
func (a *applier) attempt(ctx context.Context, timeout time.Duration, args *Args, exec execFunc) ToolResult {
	if timeout <= 0 {
		return exec(ctx, args)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan ToolResult, 1)
	go func() {
		done <- exec(actx, args)
	}()
	select {
	case res := <-done:
		cancel()
		return res
	case <-actx.Done():
		cancel()
		if err := ctx.Err(); err != nil {
			res := ToolResult{Error: AsToolError(err)}
			res.Duration = timeout
			return res
		}
		res := failure(CodeTimeout, "attempt exceeded timeout")
		res.Duration = timeout
		return res
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
