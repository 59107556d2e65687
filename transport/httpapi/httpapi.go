// Package httpapi exposes an invoxy Registry over HTTP. It is a thin adapter:
// it turns an inbound request into an invocation and a ToolResult into a
// response, and carries no policy of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/invoxy/invoxy"
)

// Server serves the registry endpoints.
type Server struct {
	reg    *invoxy.Registry
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to zap.NewNop.
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

// Handler returns the HTTP handler:
//
//	POST /invoke    one structured call → one ToolResult
//	POST /dispatch  raw model text → results + leftover
//	GET  /tools     registered call schemas
//	GET  /healthz   liveness
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Post("/invoke", s.handleInvoke)
	r.Post("/dispatch", s.handleDispatch)
	r.Get("/tools", s.handleTools)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// invokeRequest is the wire shape of POST /invoke.
type invokeRequest struct {
	Tool          string          `json:"tool"`
	Arguments     json.RawMessage `json:"arguments"`
	CorrelationID string          `json:"correlationId"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invoxy.CodeMalformedCall, err.Error())
		return
	}
	if req.Tool == "" {
		s.writeError(w, http.StatusBadRequest, invoxy.CodeMalformedCall, "missing tool name")
		return
	}
	args := invoxy.NewArgs()
	if len(req.Arguments) > 0 {
		parsed, err := invoxy.ArgsFromJSON(req.Arguments)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, invoxy.CodeMalformedCall, err.Error())
			return
		}
		args = parsed
	}
	res := s.reg.Invoke(r.Context(), invoxy.Invocation{
		Tool: req.Tool,
		Args: args,
		Meta: invoxy.CallMeta{CorrelationID: req.CorrelationID},
	})
	s.writeJSON(w, http.StatusOK, res)
}

// dispatchRequest is the wire shape of POST /dispatch.
type dispatchRequest struct {
	Text string `json:"text"`
}

// dispatchResponse carries every result plus the prose the router left over.
type dispatchResponse struct {
	Results  []invoxy.ToolResult `json:"results"`
	Leftover string              `json:"leftover,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invoxy.CodeMalformedCall, err.Error())
		return
	}
	results, leftover, err := s.reg.Dispatch(r.Context(), req.Text)
	if err != nil {
		// The one failure mode with no result envelope: a malformed
		// structural call.
		code := invoxy.CodeParseError
		if errors.Is(err, invoxy.ErrMalformedCall) {
			code = invoxy.CodeMalformedCall
		}
		s.writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}
	if results == nil {
		results = []invoxy.ToolResult{}
	}
	s.writeJSON(w, http.StatusOK, dispatchResponse{Results: results, Leftover: leftover})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.Schemas())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code invoxy.Code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": invoxy.NewToolError(code, message),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
