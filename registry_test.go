package invoxy

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	reg := New(SessionConfig{})
	res := reg.Invoke(context.Background(), Invocation{Tool: "missing"})
	require.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeUnknownTool, res.Error.Code)
}

func TestRegistry_Invoke_Success(t *testing.T) {
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "double", fn: func(_ context.Context, _ string, args *Args) (json.RawMessage, error) {
		v, _ := args.Get("x")
		out, _ := json.Marshal(map[string]any{"y": v.(float64) * 2})
		return out, nil
	}})
	args, err := ArgsFromJSON([]byte(`{"x": 7}`))
	require.NoError(t, err)
	res := reg.Invoke(context.Background(), Invocation{Tool: "double", Args: args})
	require.True(t, res.OK, "unexpected error: %v", res.Error)
	assert.JSONEq(t, `{"y":14}`, string(res.Payload))
	assert.Equal(t, 1, res.Attempts)
}

func TestRegistry_Invoke_HandlerPanicBecomesFailure(t *testing.T) {
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "boom", fn: func(_ context.Context, _ string, _ *Args) (json.RawMessage, error) {
		panic("oops")
	}})
	res := reg.Invoke(context.Background(), Invocation{Tool: "boom"})
	require.False(t, res.OK)
	assert.Equal(t, CodeExecutionError, res.Error.Code)
	assert.Contains(t, res.Error.Message, "panic")
}

func TestRegistry_Invoke_HandlerErrorCodesPassThrough(t *testing.T) {
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "locked", fn: func(_ context.Context, _ string, _ *Args) (json.RawMessage, error) {
		return nil, NewToolError(CodeResourceInUse, "file is locked")
	}})
	res := reg.Invoke(context.Background(), Invocation{Tool: "locked"})
	require.False(t, res.OK)
	assert.Equal(t, CodeResourceInUse, res.Error.Code)
	assert.Equal(t, "file is locked", res.Error.Message)
}

func TestRegistry_Register_OverwriteWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := New(SessionConfig{}, WithLogger(zap.New(core)))
	reg.Register(&funcHandler{name: "dup"})
	reg.Register(&funcHandler{name: "dup"})
	assert.Equal(t, 1, logs.FilterMessage("tool re-registered, previous handler replaced").Len())

	// Last registration wins.
	var called atomic.Int32
	reg.Register(&funcHandler{name: "dup", fn: func(_ context.Context, _ string, _ *Args) (json.RawMessage, error) {
		called.Add(1)
		return json.RawMessage(`{}`), nil
	}})
	res := reg.Invoke(context.Background(), Invocation{Tool: "dup"})
	require.True(t, res.OK)
	assert.EqualValues(t, 1, called.Load())
}

func TestRegistry_Resolve(t *testing.T) {
	reg := New(SessionConfig{})
	h := &funcHandler{name: "known"}
	reg.Register(h)
	got, ok := reg.Resolve("known")
	require.True(t, ok)
	assert.Equal(t, "known", got.Name())
	_, ok = reg.Resolve("unknown")
	assert.False(t, ok)
}

func TestRegistry_Schemas_SortedByName(t *testing.T) {
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "zeta"})
	reg.Register(&funcHandler{name: "alpha"})
	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "zeta", schemas[1].Name)
}

func TestRegistry_MultiSchemaHandler(t *testing.T) {
	h := &funcHandler{
		name:    "files",
		schemas: []CallSchema{{Name: "read_file"}, {Name: "write_file"}},
		fn: func(_ context.Context, tool string, _ *Args) (json.RawMessage, error) {
			out, _ := json.Marshal(map[string]string{"op": tool})
			return out, nil
		},
	}
	reg := New(SessionConfig{})
	reg.Register(h)
	res := reg.Invoke(context.Background(), Invocation{Tool: "write_file"})
	require.True(t, res.OK)
	assert.JSONEq(t, `{"op":"write_file"}`, string(res.Payload))
}

func TestRegistry_Shutdown(t *testing.T) {
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "nop"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))
	// Idempotent.
	require.NoError(t, reg.Shutdown(ctx))

	res := reg.Invoke(context.Background(), Invocation{Tool: "nop"})
	require.False(t, res.OK)
	assert.Equal(t, CodeExecutionError, res.Error.Code)
	assert.Contains(t, res.Error.Message, "shutting down")
}

func TestRegistry_Use_RewrapsWithoutDoubleWrapping(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "observed"})
	reg.Use(WithLogging(zap.New(core)))
	reg.Use(WithLogging(zap.New(core))) // replaces, not stacks

	res := reg.Invoke(context.Background(), Invocation{Tool: "observed"})
	require.True(t, res.OK)
	assert.Equal(t, 1, logs.FilterMessage("handler start").Len())
}

func TestRegistry_Dispatch_Hybrid(t *testing.T) {
	var got *Args
	reg := New(SessionConfig{})
	reg.Register(&funcHandler{name: "open_app", fn: func(_ context.Context, _ string, args *Args) (json.RawMessage, error) {
		got = args
		return json.RawMessage(`{}`), nil
	}})

	raw := `Sure, opening it now. <tool_call>{"name":"open_app","arguments":{"app":"notepad"}}</tool_call> Let me know if you need more.`
	results, leftover, err := reg.Dispatch(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].OK)
	require.NotNil(t, got)
	v, _ := got.Get("app")
	assert.Equal(t, "notepad", v)
	assert.NotContains(t, leftover, "tool_call")
	assert.Contains(t, leftover, "Sure, opening it now.")
}

func TestRegistry_Dispatch_MalformedCallSurfacesError(t *testing.T) {
	reg := New(SessionConfig{})
	_, _, err := reg.Dispatch(context.Background(), `<tool_call>{not json}</tool_call>`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedCall)
}

func TestRegistry_GlobalTimeoutBoundsInvocation(t *testing.T) {
	reg := New(SessionConfig{GlobalTimeout: 30 * time.Millisecond})
	reg.Register(&funcHandler{name: "slow", fn: func(ctx context.Context, _ string, _ *Args) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	start := time.Now()
	res := reg.Invoke(context.Background(), Invocation{Tool: "slow"})
	require.False(t, res.OK)
	assert.Equal(t, CodeTimeout, res.Error.Code)
	assert.Less(t, time.Since(start), time.Second)
}
