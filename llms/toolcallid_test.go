package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeToolCallID_DeterministicAcrossMapOrder(t *testing.T) {
	id1 := SynthesizeToolCallID("read", map[string]any{"file_path": "a.go", "limit": 10})
	id2 := SynthesizeToolCallID("read", map[string]any{"limit": 10, "file_path": "a.go"})
	assert.Equal(t, id1, id2)
	assert.Regexp(t, `^tc_[0-9a-f]{16}$`, id1)
}

func TestSynthesizeToolCallID_DiffersByNameOrArgs(t *testing.T) {
	base := SynthesizeToolCallID("read", map[string]any{"file_path": "a.go"})
	diffName := SynthesizeToolCallID("write", map[string]any{"file_path": "a.go"})
	diffArgs := SynthesizeToolCallID("read", map[string]any{"file_path": "b.go"})
	assert.NotEqual(t, base, diffName)
	assert.NotEqual(t, base, diffArgs)
}

func TestEnsureToolCallIDs_FillsOnlyEmptyIDs(t *testing.T) {
	calls := []ToolCall{
		{ID: "provided", Name: "read", Arguments: map[string]any{"file_path": "a.go"}},
		{ID: "", Name: "write", Arguments: map[string]any{"file_path": "b.go"}},
	}
	out := EnsureToolCallIDs(calls)
	assert.Equal(t, "provided", out[0].ID)
	assert.NotEmpty(t, out[1].ID)
	assert.Regexp(t, `^tc_[0-9a-f]{16}$`, out[1].ID)
}
