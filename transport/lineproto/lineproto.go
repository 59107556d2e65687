// Package lineproto exposes an invoxy Registry over a newline-delimited JSON
// protocol: one request object per line in, one response object per line out.
// It is a thin adapter with no policy of its own, suitable for stdio or
// socket transports.
package lineproto

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/invoxy/invoxy"
)

// Request is one inbound line. Either Text (raw model output, routed through
// the parser) or Tool+Arguments (an already-structured call) must be set.
type Request struct {
	ID            string          `json:"id"`
	Text          string          `json:"text,omitempty"`
	Tool          string          `json:"tool,omitempty"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Response is one outbound line. Results is set for text dispatch, Result for
// a structured call; Error carries parse failures, the only failures without
// a result envelope.
type Response struct {
	ID       string              `json:"id"`
	Results  []invoxy.ToolResult `json:"results,omitempty"`
	Result   *invoxy.ToolResult  `json:"result,omitempty"`
	Leftover string              `json:"leftover,omitempty"`
	Error    *invoxy.ToolError   `json:"error,omitempty"`
}

// Server runs the line loop against one reader/writer pair.
type Server struct {
	reg    *invoxy.Registry
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to zap.NewNop.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds a Server for the given registry.
func New(reg *invoxy.Registry, opts ...Option) *Server {
	s := &Server{reg: reg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads request lines from r until EOF or ctx cancellation, writing one
// response line per request. Blank lines are skipped. An undecodable line
// still produces a response line so the peer never waits on a request it
// thinks is in flight.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := s.handleLine(ctx, line)
		if err := writeLine(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return Response{Error: invoxy.NewToolError(invoxy.CodeMalformedCall, err.Error())}
	}
	switch {
	case req.Tool != "":
		return s.handleCall(ctx, req)
	case req.Text != "":
		return s.handleText(ctx, req)
	default:
		return Response{
			ID:    req.ID,
			Error: invoxy.NewToolError(invoxy.CodeMalformedCall, "request needs either text or tool"),
		}
	}
}

func (s *Server) handleCall(ctx context.Context, req Request) Response {
	args := invoxy.NewArgs()
	if len(req.Arguments) > 0 {
		parsed, err := invoxy.ArgsFromJSON(req.Arguments)
		if err != nil {
			return Response{ID: req.ID, Error: invoxy.NewToolError(invoxy.CodeMalformedCall, err.Error())}
		}
		args = parsed
	}
	res := s.reg.Invoke(ctx, invoxy.Invocation{
		Tool: req.Tool,
		Args: args,
		Meta: invoxy.CallMeta{CorrelationID: req.CorrelationID},
	})
	return Response{ID: req.ID, Result: &res}
}

func (s *Server) handleText(ctx context.Context, req Request) Response {
	results, leftover, err := s.reg.Dispatch(ctx, req.Text)
	if err != nil {
		code := invoxy.CodeParseError
		if errors.Is(err, invoxy.ErrMalformedCall) {
			code = invoxy.CodeMalformedCall
		}
		return Response{ID: req.ID, Error: invoxy.NewToolError(code, err.Error())}
	}
	return Response{ID: req.ID, Results: results, Leftover: leftover}
}

func writeLine(w io.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
