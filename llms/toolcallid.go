package llms

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// SynthesizeToolCallID deterministically derives an id for a tool call a
// provider issued without one (Gemini's function_call parts carry none).
// The scheme: FNV-1a 64-bit hash of name + NUL + canonical-JSON(arguments),
// hex-encoded and prefixed "tc_". Documented here so repeated calls with
// the same name/arguments in a test fixture produce the same id.
func SynthesizeToolCallID(name string, arguments map[string]any) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canonicalJSON(arguments))
	return fmt.Sprintf("tc_%016x", h.Sum64())
}

// canonicalJSON renders arguments with sorted keys so hashing is stable
// regardless of map iteration order.
func canonicalJSON(v map[string]any) []byte {
	if v == nil {
		return []byte("{}")
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, v[k])
	}
	b, _ := json.Marshal(ordered)
	return b
}

// EnsureToolCallIDs fills in any empty ToolCall.ID in place using
// SynthesizeToolCallID, and returns the slice for convenience.
func EnsureToolCallIDs(calls []ToolCall) []ToolCall {
	for i, tc := range calls {
		if tc.ID == "" {
			calls[i].ID = SynthesizeToolCallID(tc.Name, tc.Arguments)
		}
	}
	return calls
}
