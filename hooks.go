package invoxy

import (
	"context"
	"fmt"
	"sync"
)

// Hook phases, as reported in HookCtx.Phase and hook failure messages.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// HookCtx is the context passed to pre and post hooks. Args is always a copy;
// rewriting it never mutates the original invocation. Result is set for the
// post phase only.
type HookCtx struct {
	Tool   string
	Phase  string
	Args   *Args
	Result *ToolResult
	Meta   CallMeta
}

// PreHook runs before execution and may return replacement arguments. A nil
// return keeps the current arguments.
type PreHook func(ctx context.Context, hc *HookCtx) (*Args, error)

// PostHook runs after the retry loop with the final result and may rewrite it
// arbitrarily, including flipping success to failure (verification hooks).
type PostHook func(ctx context.Context, hc *HookCtx) (ToolResult, error)

// HookSet bundles the pre and post functions resolved from one HookRef.
// Either may be nil, in which case that phase passes its input through.
type HookSet struct {
	Pre  PreHook
	Post PostHook
}

// HookRegistry resolves hook references. Named hooks live in a closed map
// built at startup. Inline {module, export} references only resolve when the
// module path has been allow-listed: configuration must never be able to reach
// code that was not explicitly registered and approved.
type HookRegistry struct {
	mu      sync.RWMutex
	named   map[string]HookSet
	modules map[string]map[string]HookSet
	allowed map[string]struct{}
}

// NewHookRegistry returns an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		named:   make(map[string]HookSet),
		modules: make(map[string]map[string]HookSet),
		allowed: make(map[string]struct{}),
	}
}

// RegisterHook registers a named hook. Last registration wins.
func (h *HookRegistry) RegisterHook(name string, hs HookSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.named[name] = hs
}

// RegisterModule registers the exports of one hook module. Registration alone
// does not make the module reachable from configuration; AllowModules must
// name it too.
func (h *HookRegistry) RegisterModule(path string, exports map[string]HookSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]HookSet, len(exports))
	for name, hs := range exports {
		m[name] = hs
	}
	h.modules[path] = m
}

// AllowModules adds module paths to the allow-list for inline references.
func (h *HookRegistry) AllowModules(paths ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range paths {
		h.allowed[p] = struct{}{}
	}
}

// Resolve maps a HookRef to its HookSet. A nil ref resolves to the empty set.
func (h *HookRegistry) Resolve(ref *HookRef) (HookSet, error) {
	if ref == nil {
		return HookSet{}, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ref.Name != "" {
		hs, ok := h.named[ref.Name]
		if !ok {
			return HookSet{}, fmt.Errorf("%w: %s", ErrHookNotFound, ref.Name)
		}
		return hs, nil
	}
	if _, ok := h.allowed[ref.Module]; !ok {
		return HookSet{}, fmt.Errorf("%w: %s", ErrHookNotAllowed, ref.Module)
	}
	exports, ok := h.modules[ref.Module]
	if !ok {
		return HookSet{}, fmt.Errorf("%w: module %s not registered", ErrHookNotFound, ref.Module)
	}
	hs, ok := exports[ref.Export]
	if !ok {
		return HookSet{}, fmt.Errorf("%w: %s", ErrHookNotFound, ref.String())
	}
	return hs, nil
}

// hookFailure wraps a hook error with the hook's name and phase.
func hookFailure(ref *HookRef, phase string, err error) ToolResult {
	return failure(CodeHookError, fmt.Sprintf("hook %s (%s): %v", ref.String(), phase, err))
}
