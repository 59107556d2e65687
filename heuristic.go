package invoxy

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// heuristicStrategy is one ranked pattern for plain-text tool-call styles.
// Strategies are tried in rank order; the first one that yields invocations
// wins, so a call is never extracted twice by overlapping patterns.
type heuristicStrategy struct {
	name       string
	confidence float64
	extract    func(raw string) []Invocation
}

func defaultStrategies() []heuristicStrategy {
	return []heuristicStrategy{
		{name: "fenced-json", confidence: 0.9, extract: extractFencedJSON},
		{name: "inline-json", confidence: 0.75, extract: extractInlineJSON},
		{name: "call-line", confidence: 0.6, extract: extractCallLines},
	}
}

// extractHeuristic applies the ranked strategies. Lenient by design: no
// confident match means an empty result, never an error.
func (r *Router) extractHeuristic(raw string) []Invocation {
	for _, s := range r.strategies {
		if s.confidence < r.minConfidence {
			continue
		}
		invs := s.extract(raw)
		if len(invs) == 0 {
			continue
		}
		for i := range invs {
			invs[i].Meta.Parser = ParserHeuristic
			invs[i].Meta.Confidence = s.confidence
			invs[i].Meta.CreatedAt = time.Now()
		}
		return invs
	}
	return nil
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractFencedJSON pulls tool calls out of fenced code blocks whose object
// carries a name/tool field.
func extractFencedJSON(raw string) []Invocation {
	var invs []Invocation
	for _, m := range fencedJSONRe.FindAllStringSubmatch(raw, -1) {
		if inv, ok := parseLoosePayload(m[1], m[0]); ok {
			invs = append(invs, inv)
		}
	}
	return invs
}

// extractInlineJSON scans for balanced JSON objects embedded in prose and
// keeps the ones that look like tool calls.
func extractInlineJSON(raw string) []Invocation {
	var invs []Invocation
	for i := 0; i < len(raw); {
		open := strings.IndexByte(raw[i:], '{')
		if open < 0 {
			break
		}
		start := i + open
		end := scanObject(raw, start)
		if end < 0 {
			i = start + 1
			continue
		}
		candidate := raw[start:end]
		if inv, ok := parseLoosePayload(candidate, candidate); ok {
			invs = append(invs, inv)
			i = end
			continue
		}
		i = start + 1
	}
	return invs
}

// scanObject returns the index just past the object opening at start, walking
// brace depth while skipping string literals. -1 when unbalanced.
func scanObject(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// parseLoosePayload tries to interpret candidate JSON as a tool call. Unlike
// the structural path, failure is not an error: the text simply was not a call.
func parseLoosePayload(payload, region string) (Invocation, bool) {
	var pc callPayload
	if err := json.Unmarshal([]byte(payload), &pc); err != nil {
		return Invocation{}, false
	}
	name := pc.Name
	if name == "" {
		name = pc.Tool
	}
	if name == "" {
		return Invocation{}, false
	}
	args := pc.Arguments
	if args == nil {
		args = NewArgs()
	}
	return Invocation{Tool: name, Args: args, Meta: CallMeta{Raw: region}}, true
}

var callLineRe = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_.]*)\((.*)\)\s*$`)

// extractCallLines matches whole lines of the form name(key=value, ...) or
// name(key: value, ...). A bare name() only counts when the name looks like a
// tool identifier (contains an underscore or dot), otherwise ordinary prose
// such as "main()" would match.
func extractCallLines(raw string) []Invocation {
	var invs []Invocation
	for _, m := range callLineRe.FindAllStringSubmatch(raw, -1) {
		name, argText := m[1], strings.TrimSpace(m[2])
		if argText == "" && !strings.ContainsAny(name, "_.") {
			continue
		}
		args, ok := parseCallLineArgs(argText)
		if !ok {
			continue
		}
		invs = append(invs, Invocation{Tool: name, Args: args, Meta: CallMeta{Raw: m[0]}})
	}
	return invs
}

// parseCallLineArgs parses a flat key=value (or key: value) list. Values may
// be quoted strings, numbers, booleans, or null; anything else disqualifies
// the whole candidate.
func parseCallLineArgs(text string) (*Args, bool) {
	args := NewArgs()
	if text == "" {
		return args, true
	}
	for _, part := range splitTopLevel(text) {
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		v, ok := parseScalar(value)
		if !ok {
			return nil, false
		}
		args.Set(key, v)
	}
	return args, true
}

// splitTopLevel splits on commas outside quoted strings.
func splitTopLevel(s string) []string {
	var parts []string
	var b strings.Builder
	inString := false
	escaped := false
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
		case c == '"' || c == '\'':
			inString = true
			quote = c
			b.WriteByte(c)
		case c == ',':
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	parts = append(parts, b.String())
	return parts
}

func splitPair(part string) (string, string, bool) {
	idx := strings.IndexAny(part, "=:")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(part[:idx])
	value := strings.TrimSpace(part[idx+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func parseScalar(s string) (any, bool) {
	switch {
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		var out string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, false
		}
		return out, true
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return s[1 : len(s)-1], true
	case s == "true":
		return true, true
	case s == "false":
		return false, true
	case s == "null":
		return nil, true
	default:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n, true
		}
		return nil, false
	}
}
