package tools

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Value string `json:"value" jsonschema:"required"`
}

func echoDef() *Def {
	return &Def{
		Name:        "echo",
		Description: "echoes its input",
		ArgsType:    echoArgs{},
		Handler: func(_ context.Context, _ *Context, args map[string]any) (string, error) {
			return fmt.Sprintf("%v", args["value"]), nil
		},
	}
}

func TestRegistry_ExecuteUnknownToolReturnsErrorString(t *testing.T) {
	r := New("edit", "write")
	out := r.Execute(context.Background(), "nope", map[string]any{})
	assert.Contains(t, out, "Error executing tool:")
}

func TestRegistry_ExecuteKnownTool(t *testing.T) {
	r := New("edit", "write")
	require.NoError(t, r.Register(echoDef()))

	out := r.Execute(context.Background(), "echo", map[string]any{"value": "hi"})
	assert.Equal(t, "hi", out)
}

func TestRegistry_RegisterRejectsConflictingDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDef()))
	err := r.Register(&Def{Name: "echo"})
	assert.Error(t, err)
}

func TestRegistry_ForkIsolatesContext(t *testing.T) {
	r := New()
	r.Context().Set("k", "root")

	fork := r.Fork("branch", true)
	fork.Context().Set("k", "branch")

	assert.Equal(t, "root", r.Context().Get("k", nil))
	assert.Equal(t, "branch", fork.Context().Get("k", nil))
	assert.True(t, fork.IsParallelBranch())
}

func TestRegistry_ForkSharesWriteLock(t *testing.T) {
	r := New("write")
	var calls int32
	maxConcurrent := int32(0)
	var mu sync.Mutex

	slow := &Def{
		Name: "write",
		Handler: func(_ context.Context, _ *Context, _ map[string]any) (string, error) {
			n := atomic.AddInt32(&calls, 1)
			mu.Lock()
			if n > maxConcurrent {
				maxConcurrent = n
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&calls, -1)
			return "ok", nil
		},
	}
	require.NoError(t, r.Register(slow))

	forkA := r.Fork("a", true)
	forkB := r.Fork("b", true)
	forkA.Register(slow)
	forkB.Register(slow)

	var wg sync.WaitGroup
	run := func(reg *Registry) {
		defer wg.Done()
		reg.Execute(context.Background(), "write", map[string]any{})
	}

	wg.Add(2)
	go run(forkA)
	go run(forkB)
	wg.Wait()
	assert.Equal(t, int32(1), maxConcurrent, "forks sharing the write lock must never run a mutating tool concurrently")
}

func TestHandoffSentinel_RefusedInParallelBranch(t *testing.T) {
	r := New()
	fork := r.Fork("branch", true)

	out := handoffToAgent(fork, map[string]any{"agent_name": "Planner", "message": "go"})
	assert.Contains(t, out, "WARNING")
	assert.Nil(t, fork.TakePendingHandoff())
}

func TestHandoffSentinel_SingleTarget(t *testing.T) {
	r := New()
	out := handoffToAgent(r, map[string]any{"agent_name": "Planner", "message": "plan it"})
	assert.Contains(t, out, "Planner")

	d := r.TakePendingHandoff()
	require.NotNil(t, d)
	assert.Equal(t, HandoffSingle, d.Mode)
	assert.Equal(t, "Planner", d.AgentName)

	// pending handoff is cleared by TakePendingHandoff (§3 invariant i).
	assert.Nil(t, r.TakePendingHandoff())
}

func TestHandoffSentinel_ParallelTargetsDeduped(t *testing.T) {
	r := New()
	out := handoffToAgent(r, map[string]any{
		"agent_name":  "Planner",
		"agent_names": []any{"Planner", "Critic"},
		"message":     "review",
	})
	assert.Contains(t, out, "Parallel")

	d := r.TakePendingHandoff()
	require.NotNil(t, d)
	assert.Equal(t, HandoffParallel, d.Mode)
	assert.Equal(t, []string{"Planner", "Critic"}, d.AgentNames)
}

func TestHandoffSentinel_EmptyTargetsIsError(t *testing.T) {
	r := New()
	out := handoffToAgent(r, map[string]any{"message": "go"})
	assert.Contains(t, out, "Error")
	assert.Nil(t, r.TakePendingHandoff())
}

func TestRegistry_ExecuteRoutesHandoffSentinel(t *testing.T) {
	r := New()
	out := r.Execute(context.Background(), "handoff_to_agent", map[string]any{"agent_name": "Planner", "message": "go"})
	assert.Contains(t, out, "Planner")
	assert.NotNil(t, r.TakePendingHandoff())
}

func TestContext_CloneIsIndependent(t *testing.T) {
	c := NewContext()
	c.MarkFileRead("/a.txt")
	c.Set("k", 1)

	clone := c.Clone()
	clone.MarkFileRead("/b.txt")
	clone.Set("k", 2)

	assert.True(t, c.WasFileRead("/a.txt"))
	assert.False(t, c.WasFileRead("/b.txt"))
	assert.Equal(t, 1, c.Get("k", nil))
	assert.Equal(t, 2, clone.Get("k", nil))
}

func TestRegistry_Schemas_IncludesHandoffSentinel(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDef()))

	schemas := r.Schemas()
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Function.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "handoff_to_agent")
}
