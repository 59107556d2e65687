package invoxy

import (
	"fmt"
	"strings"
)

// StreamParser is the streaming variant of the structural extractor. It
// accumulates chunks in an internal buffer and emits invocations as soon as a
// full marker pair is present, leaving partial or unmatched content buffered
// for the next chunk or an explicit Flush. Only structural calls are
// recognized: heuristics need the complete text and do not apply mid-stream.
type StreamParser struct {
	buf string
}

// NewStreamParser returns an empty stream parser.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Push appends a chunk and returns every invocation completed by it. A
// completed marker pair with an uninterpretable payload is a hard error
// wrapping ErrMalformedCall; the offending region is consumed so the stream
// can continue. Invocations already completed by the same chunk are returned
// alongside the error.
func (p *StreamParser) Push(chunk string) ([]Invocation, error) {
	p.buf += chunk
	var invs []Invocation
	for {
		open := strings.Index(p.buf, markerOpen)
		if open < 0 {
			return invs, nil
		}
		body := p.buf[open+len(markerOpen):]
		closing := strings.Index(body, markerClose)
		if closing < 0 {
			return invs, nil
		}
		payload := body[:closing]
		regionEnd := open + len(markerOpen) + closing + len(markerClose)
		region := p.buf[open:regionEnd]
		rest := p.buf[:open] + p.buf[regionEnd:]
		inv, err := parseCallPayload(payload, region)
		p.buf = rest
		if err != nil {
			return invs, err
		}
		invs = append(invs, inv)
	}
}

// Pending returns the currently buffered, unconsumed text.
func (p *StreamParser) Pending() string {
	return p.buf
}

// Flush drains the buffer and returns the unconsumed text. An opening marker
// still buffered at flush time can never complete, so it is reported as a
// malformed call; the buffer is cleared either way.
func (p *StreamParser) Flush() (string, error) {
	rest := p.buf
	p.buf = ""
	if strings.Contains(rest, markerOpen) {
		return "", fmt.Errorf("%w: unterminated %s marker at end of stream", ErrMalformedCall, markerOpen)
	}
	return rest, nil
}
