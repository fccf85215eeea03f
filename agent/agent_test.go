package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agency/config"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/llms/llmtest"
	"github.com/kadirpekel/agency/tools"
)

func testConfig() config.AgentConfig {
	return config.AgentConfig{Model: "gpt-4o", Provider: "openai", MaxTokens: 4096, MaxRetries: 3, RetryDelay: 0, MaxTurns: 30}
}

func TestProcess_AppendsHistoryAndReturnsContent(t *testing.T) {
	stub := llmtest.New(llms.ProviderResponse{Content: "hello back", FinishReason: llms.FinishStop})
	a := New("Coder", "implements features", "You write code.", testConfig(), stub, nil)

	out, err := a.Process(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
	assert.Len(t, a.History(), 2)
	assert.Equal(t, llms.RoleUser, a.History()[0].Role)
	assert.Equal(t, llms.RoleAssistant, a.History()[1].Role)
}

func TestProcess_RetriesOnProviderError(t *testing.T) {
	stub := &erroringThenOKStub{okAfter: 2}
	a := New("Coder", "", "", testConfig(), stub, nil)

	out, err := a.Process(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, stub.calls)
}

func TestProcessWithTools_StopsOnFinishStop(t *testing.T) {
	stub := llmtest.New(llms.ProviderResponse{Content: "done", FinishReason: llms.FinishStop})
	a := New("Coder", "", "", testConfig(), stub, nil)
	executor := tools.New("edit", "write")

	out := a.ProcessWithTools(context.Background(), "hi", nil, executor, 10, nil, nil)
	assert.Equal(t, "done", out)
}

func TestProcessWithTools_DispatchesToolCallsAndAppendsToolMessages(t *testing.T) {
	executor := tools.New("edit", "write")
	require.NoError(t, executor.Register(&tools.Def{
		Name: "noop", Description: "does nothing",
		Handler: func(context.Context, *tools.Context, map[string]any) (string, error) { return "ok", nil },
	}))

	stub := llmtest.New(
		llms.ProviderResponse{
			FinishReason: llms.FinishToolCalls,
			ToolCalls:    []llms.ToolCall{{ID: "tc_1", Name: "noop", Arguments: map[string]any{}}},
		},
		llms.ProviderResponse{Content: "all done", FinishReason: llms.FinishStop},
	)
	a := New("Coder", "", "", testConfig(), stub, nil)

	out := a.ProcessWithTools(context.Background(), "hi", nil, executor, 10, nil, nil)
	assert.Equal(t, "all done", out)

	history := a.History()
	var sawToolResult bool
	for _, m := range history {
		if m.Role == llms.RoleTool && m.ToolCallID == "tc_1" {
			sawToolResult = true
			assert.Equal(t, "ok", m.Content)
		}
	}
	assert.True(t, sawToolResult, "expected a tool-result message with tool_call_id tc_1")
}

func TestProcessWithTools_HandoffTerminatesTurnEarly(t *testing.T) {
	executor := tools.New("edit", "write")
	stub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc_1", Name: "handoff_to_agent",
			Arguments: map[string]any{"agent_name": "Reviewer", "message": "please review"},
		}},
	})
	a := New("Coder", "", "", testConfig(), stub, nil)

	out := a.ProcessWithTools(context.Background(), "hi", nil, executor, 10, nil, nil)
	assert.Contains(t, out, "Reviewer")
	assert.Equal(t, 1, stub.CallCount())

	pending := executor.TakePendingHandoff()
	require.NotNil(t, pending)
	assert.Equal(t, "Reviewer", pending.AgentName)
}

func TestGate_OneByOneWhenActiveTodosExist(t *testing.T) {
	executor := tools.New("edit", "write")
	executor.Context().Set("todos", []any{map[string]any{"task": "a", "status": "in_progress", "priority": "high"}})
	a := New("Coder", "", "", testConfig(), llmtest.New(), nil)
	a.lastExecutor = executor

	calls := []llms.ToolCall{
		{ID: "1", Name: "read"},
		{ID: "2", Name: "edit"},
		{ID: "3", Name: "todo_write"},
	}
	toExec, toSkip := a.gate(calls)
	assert.Len(t, toExec, 2) // first non-todo_write ("read") + todo_write
	assert.Len(t, toSkip, 1) // "edit" dropped
	assert.Equal(t, "read", toExec[0].Name)
	assert.Equal(t, "todo_write", toExec[1].Name)
}

func TestGate_NoGatingWithoutActiveTodos(t *testing.T) {
	executor := tools.New("edit", "write")
	a := New("Coder", "", "", testConfig(), llmtest.New(), nil)
	a.lastExecutor = executor

	calls := []llms.ToolCall{{ID: "1", Name: "read"}, {ID: "2", Name: "edit"}}
	toExec, toSkip := a.gate(calls)
	assert.Len(t, toExec, 2)
	assert.Empty(t, toSkip)
}

type erroringThenOKStub struct {
	calls   int
	okAfter int
}

func (s *erroringThenOKStub) Name() string { return "erroring-stub" }

func (s *erroringThenOKStub) CreateCompletion(context.Context, []llms.Message, string, llms.CompletionConfig, []llms.ToolSchema) (llms.ProviderResponse, error) {
	s.calls++
	if s.calls < s.okAfter {
		return llms.ProviderResponse{}, assertError{}
	}
	return llms.ProviderResponse{Content: "ok", FinishReason: llms.FinishStop}, nil
}

func (s *erroringThenOKStub) CreateStreamingCompletion(ctx context.Context, messages []llms.Message, systemPrompt string, cfg llms.CompletionConfig, tools []llms.ToolSchema) (<-chan llms.StreamEvent, error) {
	return nil, nil
}

type assertError struct{}

func (assertError) Error() string { return "transient provider failure" }
