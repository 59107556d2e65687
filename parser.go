package invoxy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CallStyle declares how a model emits tool calls. Hybrid is the default:
// structural extraction first, heuristics only when no structural call exists.
// Structural calls are unambiguous and are never second-guessed by heuristics.
type CallStyle string

const (
	CallStyleHybrid     CallStyle = "hybrid"
	CallStyleStructural CallStyle = "structural"
	CallStyleHeuristic  CallStyle = "heuristic"
)

// Structural call markers. The payload between them is a JSON object with a
// required "name" (or "tool") field and optional "arguments" object.
const (
	markerOpen  = "<tool_call>"
	markerClose = "</tool_call>"
)

// Router converts raw model output into invocations.
type Router struct {
	style         CallStyle
	minConfidence float64
	strategies    []heuristicStrategy
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMinConfidence sets the confidence floor below which heuristic matches
// are dropped. Default 0.5.
func WithMinConfidence(min float64) RouterOption {
	return func(r *Router) {
		r.minConfidence = min
	}
}

// NewRouter creates a Router for the given call style. An empty style means
// hybrid.
func NewRouter(style CallStyle, opts ...RouterOption) *Router {
	if style == "" {
		style = CallStyleHybrid
	}
	r := &Router{
		style:         style,
		minConfidence: 0.5,
		strategies:    defaultStrategies(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Parse extracts invocations from raw model output. The returned string is the
// leftover text with matched structural regions removed. A structural marker
// pair whose payload cannot be interpreted is a hard failure wrapping
// ErrMalformedCall; the heuristic path never fails, it just returns nothing.
func (r *Router) Parse(raw string) ([]Invocation, string, error) {
	switch r.style {
	case CallStyleStructural:
		return extractStructural(raw)
	case CallStyleHeuristic:
		return r.extractHeuristic(raw), raw, nil
	default:
		invs, leftover, err := extractStructural(raw)
		if err != nil {
			return nil, "", err
		}
		if len(invs) > 0 {
			return invs, leftover, nil
		}
		return r.extractHeuristic(raw), raw, nil
	}
}

// extractStructural scans for marker pairs, parses each payload, and removes
// matched regions from the leftover text. An opening marker without a closing
// one is malformed: the region can never complete in a non-streaming parse.
func extractStructural(raw string) ([]Invocation, string, error) {
	var invs []Invocation
	var leftover strings.Builder
	rest := raw
	for {
		open := strings.Index(rest, markerOpen)
		if open < 0 {
			leftover.WriteString(rest)
			break
		}
		body := rest[open+len(markerOpen):]
		closing := strings.Index(body, markerClose)
		if closing < 0 {
			return nil, "", fmt.Errorf("%w: unterminated %s marker", ErrMalformedCall, markerOpen)
		}
		payload := body[:closing]
		region := rest[open : open+len(markerOpen)+closing+len(markerClose)]
		inv, err := parseCallPayload(payload, region)
		if err != nil {
			return nil, "", err
		}
		invs = append(invs, inv)
		leftover.WriteString(rest[:open])
		rest = body[closing+len(markerClose):]
	}
	return invs, strings.TrimSpace(leftover.String()), nil
}

// callPayload is the wire shape of a structural call body. "tool" is accepted
// as an alias of "name".
type callPayload struct {
	Name      string `json:"name"`
	Tool      string `json:"tool"`
	Arguments *Args  `json:"arguments"`
}

// parseCallPayload interprets one structural payload. A payload that is not
// valid JSON or lacks a tool name is malformed: there is no invocation to
// attach the failure to, so it surfaces as a hard error.
func parseCallPayload(payload, region string) (Invocation, error) {
	var pc callPayload
	if err := json.Unmarshal([]byte(payload), &pc); err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	name := pc.Name
	if name == "" {
		name = pc.Tool
	}
	if name == "" {
		return Invocation{}, fmt.Errorf("%w: missing tool name", ErrMalformedCall)
	}
	args := pc.Arguments
	if args == nil {
		args = NewArgs()
	}
	return Invocation{
		Tool: name,
		Args: args,
		Meta: CallMeta{
			Raw:       region,
			Parser:    ParserStructural,
			CreatedAt: time.Now(),
		},
	}, nil
}
