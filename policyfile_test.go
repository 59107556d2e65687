package invoxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeDef(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefinitions_YAML(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "copy.yaml", `
toolName: copy_file
timeoutMs: 5000
retryPolicy:
  maxRetries: 2
  backoff: exponential
  baseDelayMs: 100
  retryableErrors: [TIMEOUT, EXECUTION_ERROR]
rateLimits:
  maxCallsPerSecond: 3
  burstAllowance: 1
preHook: audit
fallbackTool: copy_file_slow
requiresElevation: true
inputValidation:
  type: object
  required: [src, dst]
  properties:
    src: {type: string}
    dst: {type: string}
`)

	defs, err := LoadDefinitions(dir, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs["copy_file"]
	require.NotNil(t, def)
	assert.Equal(t, 5*time.Second, def.Timeout)
	require.NotNil(t, def.Retry)
	assert.Equal(t, 2, def.Retry.MaxRetries)
	assert.Equal(t, BackoffExponential, def.Retry.Backoff)
	assert.Equal(t, 100*time.Millisecond, def.Retry.BaseDelay)
	assert.Equal(t, []Code{CodeTimeout, CodeExecutionError}, def.Retry.RetryableErrors)
	require.NotNil(t, def.RateLimits)
	assert.Equal(t, 3.0, def.RateLimits.MaxCallsPerSecond)
	assert.Equal(t, 1, def.RateLimits.BurstAllowance)
	require.NotNil(t, def.PreHook)
	assert.Equal(t, "audit", def.PreHook.Name)
	assert.Equal(t, "copy_file_slow", def.FallbackTool)
	assert.True(t, def.RequiresElevation)
	assert.NotNil(t, def.validator, "schema should be compiled at load time")
	assert.Equal(t, []string{"src", "dst"}, def.required)
}

func TestLoadDefinitions_JSONAndList(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "tools.json", `[
  {"toolName": "one"},
  {"toolName": "two", "postHook": {"module": "hooks/verify", "export": "check"}}
]`)

	defs, err := LoadDefinitions(dir, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.NotNil(t, defs["two"].PostHook)
	assert.Equal(t, "hooks/verify", defs["two"].PostHook.Module)
	assert.Equal(t, "check", defs["two"].PostHook.Export)
}

func TestLoadDefinitions_MalformedRecordSkipped(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "good.yaml", "toolName: keeper\n")
	writeDef(t, dir, "noname.yaml", "timeoutMs: 100\n")
	writeDef(t, dir, "badbackoff.yaml", `
toolName: broken
retryPolicy:
  backoff: quadratic
`)
	writeDef(t, dir, "notyaml.yaml", "\t{{{ not valid\n")
	writeDef(t, dir, "ignored.txt", "toolName: never_loaded\n")

	core, logs := observer.New(zap.WarnLevel)
	defs, err := LoadDefinitions(dir, zap.New(core))
	require.NoError(t, err, "malformed records are skipped, not fatal")
	require.Len(t, defs, 1)
	assert.Contains(t, defs, "keeper")
	assert.GreaterOrEqual(t, logs.Len(), 2, "each skip is logged")
}

func TestLoadDefinitions_DuplicateLastWins(t *testing.T) {
	dir := t.TempDir()
	// ReadDir yields lexical order, so b.yaml overwrites a.yaml.
	writeDef(t, dir, "a.yaml", "toolName: dup\ntimeoutMs: 100\n")
	writeDef(t, dir, "b.yaml", "toolName: dup\ntimeoutMs: 200\n")

	core, logs := observer.New(zap.WarnLevel)
	defs, err := LoadDefinitions(dir, zap.New(core))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 200*time.Millisecond, defs["dup"].Timeout)
	assert.Equal(t, 1, logs.FilterMessage("duplicate definition, last one wins").Len())
}

func TestLoadDefinitions_MissingDir(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	require.Error(t, err)
}

func TestDecodeHookRef(t *testing.T) {
	ref, err := decodeHookRef(nil)
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = decodeHookRef("")
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = decodeHookRef("named")
	require.NoError(t, err)
	assert.Equal(t, &HookRef{Name: "named"}, ref)

	ref, err = decodeHookRef(map[string]any{"module": "m", "export": "e"})
	require.NoError(t, err)
	assert.Equal(t, &HookRef{Module: "m", Export: "e"}, ref)

	_, err = decodeHookRef(map[string]any{"name": "n", "module": "m", "export": "e"})
	require.Error(t, err)

	_, err = decodeHookRef(map[string]any{"module": "m"})
	require.Error(t, err)
}
