package lineproto

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/invoxy/invoxy"
	"github.com/invoxy/invoxy/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := invoxy.New(invoxy.SessionConfig{})
	reg.Register(&testutil.MockHandler{
		NameVal: "echo",
		ExecuteFn: func(_ context.Context, _ string, args *invoxy.Args) (json.RawMessage, error) {
			return json.Marshal(args.Map())
		},
	})
	return New(reg)
}

// serve runs the line loop over the given input and returns the decoded
// response lines.
func serve(t *testing.T, s *Server, input string) []Response {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServe_StructuredCall(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"id":"1","tool":"echo","arguments":{"msg":"hi"}}`+"\n")
	require.Len(t, resps, 1)
	assert.Equal(t, "1", resps[0].ID)
	require.NotNil(t, resps[0].Result)
	require.True(t, resps[0].Result.OK)
	assert.JSONEq(t, `{"msg":"hi"}`, string(resps[0].Result.Payload))
}

func TestServe_TextDispatch(t *testing.T) {
	s := newTestServer(t)
	req, _ := json.Marshal(Request{
		ID:   "2",
		Text: `Running it. <tool_call>{"name":"echo","arguments":{"n":1}}</tool_call>`,
	})
	resps := serve(t, s, string(req)+"\n")
	require.Len(t, resps, 1)
	assert.Equal(t, "2", resps[0].ID)
	require.Len(t, resps[0].Results, 1)
	assert.True(t, resps[0].Results[0].OK)
	assert.Equal(t, "Running it.", resps[0].Leftover)
}

func TestServe_OneResponsePerLine(t *testing.T) {
	s := newTestServer(t)
	input := `{"id":"a","tool":"echo"}` + "\n\n" + `{"id":"b","tool":"missing"}` + "\n"
	resps := serve(t, s, input)
	require.Len(t, resps, 2, "blank lines are skipped, every request is answered")
	assert.Equal(t, "a", resps[0].ID)
	require.NotNil(t, resps[1].Result)
	assert.False(t, resps[1].Result.OK)
	assert.Equal(t, invoxy.CodeUnknownTool, resps[1].Result.Error.Code)
}

func TestServe_UndecodableLineStillAnswered(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, "{garbage\n")
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, invoxy.CodeMalformedCall, resps[0].Error.Code)
}

func TestServe_EmptyRequest(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"id":"x"}`+"\n")
	require.Len(t, resps, 1)
	assert.Equal(t, "x", resps[0].ID)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, invoxy.CodeMalformedCall, resps[0].Error.Code)
}

func TestServe_MalformedStructuralText(t *testing.T) {
	s := newTestServer(t)
	resps := serve(t, s, `{"id":"y","text":"<tool_call>{broken</tool_call>"}`+"\n")
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, invoxy.CodeMalformedCall, resps[0].Error.Code)
}

func TestServe_ContextCancellationStopsLoop(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := s.Serve(ctx, strings.NewReader(`{"id":"1","tool":"echo"}`+"\n"), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
