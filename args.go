package invoxy

import (
	"encoding/json"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Args is the argument map of an invocation. Key order is preserved as
// produced by the parser (or as set by the caller), so hooks and handlers see
// arguments in the order the model emitted them.
type Args struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewArgs returns an empty argument map.
func NewArgs() *Args {
	return &Args{m: orderedmap.New[string, any]()}
}

// ArgsFromJSON decodes a JSON object into an Args, preserving key order.
func ArgsFromJSON(data []byte) (*Args, error) {
	a := NewArgs()
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ArgsFromMap builds an Args from a plain map. Keys are inserted in sorted
// order for determinism.
func ArgsFromMap(m map[string]any) *Args {
	a := NewArgs()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		a.Set(k, m[k])
	}
	return a
}

// Set stores a value, appending the key when new.
func (a *Args) Set(key string, value any) {
	a.m.Set(key, value)
}

// Get returns the value for key.
func (a *Args) Get(key string) (any, bool) {
	return a.m.Get(key)
}

// Has reports whether key is present.
func (a *Args) Has(key string) bool {
	_, ok := a.m.Get(key)
	return ok
}

// Len returns the number of arguments.
func (a *Args) Len() int {
	return a.m.Len()
}

// Keys returns all keys in insertion order.
func (a *Args) Keys() []string {
	keys := make([]string, 0, a.m.Len())
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone returns a copy sharing the values but not the key table. Hooks receive
// clones so the original invocation is never mutated.
func (a *Args) Clone() *Args {
	if a == nil {
		return NewArgs()
	}
	out := NewArgs()
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// Map returns the arguments as a plain map with nested ordered maps flattened,
// suitable for JSON Schema validation.
func (a *Args) Map() map[string]any {
	if a == nil {
		return map[string]any{}
	}
	out := make(map[string]any, a.m.Len())
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = plainValue(pair.Value)
	}
	return out
}

// plainValue recursively converts ordered maps (as produced by Args JSON
// decoding) back into plain maps.
func plainValue(v any) any {
	switch t := v.(type) {
	case *orderedmap.OrderedMap[string, any]:
		m := make(map[string]any, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			m[pair.Key] = plainValue(pair.Value)
		}
		return m
	case orderedmap.OrderedMap[string, any]:
		return plainValue(&t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = plainValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON emits a JSON object with keys in insertion order.
func (a *Args) MarshalJSON() ([]byte, error) {
	if a == nil || a.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.m)
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (a *Args) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}
	a.m = m
	return nil
}
