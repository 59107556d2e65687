package invoxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heuristicParse(t *testing.T, raw string) []Invocation {
	t.Helper()
	invs, _, err := NewRouter(CallStyleHeuristic).Parse(raw)
	require.NoError(t, err)
	return invs
}

func TestHeuristic_FencedJSON(t *testing.T) {
	raw := "Here you go:\n```json\n{\"name\":\"read_file\",\"arguments\":{\"path\":\"/etc/hosts\"}}\n```\nthanks"
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	assert.Equal(t, "read_file", invs[0].Tool)
	v, _ := invs[0].Args.Get("path")
	assert.Equal(t, "/etc/hosts", v)
	assert.InDelta(t, 0.9, invs[0].Meta.Confidence, 1e-9)
}

func TestHeuristic_FencedJSON_PlainFence(t *testing.T) {
	raw := "```\n{\"tool\":\"ping\"}\n```"
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	assert.Equal(t, "ping", invs[0].Tool)
}

func TestHeuristic_FencedBlockWithoutNameIsIgnored(t *testing.T) {
	raw := "```json\n{\"just\":\"data\"}\n```"
	assert.Empty(t, heuristicParse(t, raw))
}

func TestHeuristic_InlineJSON(t *testing.T) {
	raw := `Let me run {"name":"search","arguments":{"query":"weather {today}"}} for you.`
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	assert.Equal(t, "search", invs[0].Tool)
	v, _ := invs[0].Args.Get("query")
	assert.Equal(t, "weather {today}", v, "braces inside string literals must not break the scan")
	assert.InDelta(t, 0.75, invs[0].Meta.Confidence, 1e-9)
}

func TestHeuristic_InlineJSON_NestedObjects(t *testing.T) {
	raw := `{"name":"configure","arguments":{"opts":{"depth":2,"flags":["a","b"]}}}`
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	m := invs[0].Args.Map()
	opts, ok := m["opts"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, opts["depth"])
}

func TestHeuristic_FencedOutranksInline(t *testing.T) {
	// Both patterns match; only the higher-ranked fenced strategy emits.
	raw := "inline {\"name\":\"low\"} first\n```json\n{\"name\":\"high\"}\n```"
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	assert.Equal(t, "high", invs[0].Tool)
}

func TestHeuristic_CallLine(t *testing.T) {
	raw := "open_app(app=\"notepad\", focus=true, retries=2)"
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	assert.Equal(t, "open_app", invs[0].Tool)
	m := invs[0].Args.Map()
	assert.Equal(t, "notepad", m["app"])
	assert.Equal(t, true, m["focus"])
	assert.EqualValues(t, 2, m["retries"])
	assert.InDelta(t, 0.6, invs[0].Meta.Confidence, 1e-9)
}

func TestHeuristic_CallLine_ColonSeparatorAndSingleQuotes(t *testing.T) {
	raw := "send_mail(to: 'a@b.c', subject: \"hi, there\")"
	invs := heuristicParse(t, raw)
	require.Len(t, invs, 1)
	m := invs[0].Args.Map()
	assert.Equal(t, "a@b.c", m["to"])
	assert.Equal(t, "hi, there", m["subject"], "commas inside quotes must not split")
}

func TestHeuristic_CallLine_BareProseNamesIgnored(t *testing.T) {
	// Plain identifiers without an underscore or dot are too likely to be
	// prose like "main()" when there are no arguments.
	assert.Empty(t, heuristicParse(t, "main()"))

	invs := heuristicParse(t, "list_dir()")
	require.Len(t, invs, 1)
	assert.Equal(t, "list_dir", invs[0].Tool)
	assert.Equal(t, 0, invs[0].Args.Len())
}

func TestHeuristic_CallLine_UnparsableArgsDisqualify(t *testing.T) {
	assert.Empty(t, heuristicParse(t, "open_app(some free text)"))
	assert.Empty(t, heuristicParse(t, "open_app(key=[1,2])"))
}

func TestHeuristic_CallLine_NullAndNumbers(t *testing.T) {
	invs := heuristicParse(t, "set_value(key=\"k\", value=null, weight=1.5)")
	require.Len(t, invs, 1)
	m := invs[0].Args.Map()
	assert.Nil(t, m["value"])
	assert.Equal(t, 1.5, m["weight"])
}

func TestScanObject(t *testing.T) {
	s := `x {"a":"}","b":{"c":1}} y`
	end := scanObject(s, 2)
	require.Greater(t, end, 0)
	assert.Equal(t, `{"a":"}","b":{"c":1}}`, s[2:end])

	assert.Equal(t, -1, scanObject(`{"open": 1`, 0))
}
