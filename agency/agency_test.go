package agency

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agency/config"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/llms/llmtest"
	"github.com/kadirpekel/agency/tools"
)

func agentSpec(name, provider string) config.AgentSpec {
	return config.AgentSpec{
		Name: name, Role: name + " role", SystemPrompt: "You are " + name + ".",
		Config: config.AgentConfig{
			Model: "stub-model", Provider: provider, MaxTokens: 1024,
			MaxRetries: 3, RetryDelay: 0.1, MaxTurns: 10,
		},
	}
}

func newTestAgency(t *testing.T, cfg *config.AgencyConfig, stubs map[string]*llmtest.Stub) *Agency {
	t.Helper()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	reg := llms.NewRegistry()
	for name, stub := range stubs {
		require.NoError(t, reg.RegisterProvider(name, stub))
	}

	executor := tools.New("edit", "write")
	ag, err := New(cfg, reg, executor, nil)
	require.NoError(t, err)
	return ag
}

func TestNew_RejectsUnknownEntryAgent(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Ghost",
		Agents: []config.AgentSpec{agentSpec("Coder", "openai")},
	}
	_, err := newTestAgencyExpectingErr(t, cfg, map[string]*llmtest.Stub{"openai": llmtest.New()})
	assert.Error(t, err)
}

func newTestAgencyExpectingErr(t *testing.T, cfg *config.AgencyConfig, stubs map[string]*llmtest.Stub) (*Agency, error) {
	t.Helper()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := llms.NewRegistry()
	for name, stub := range stubs {
		require.NoError(t, reg.RegisterProvider(name, stub))
	}
	executor := tools.New("edit", "write")
	return New(cfg, reg, executor, nil)
}

func TestCanHandoffAndGetAllowedHandoffs(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents:             []config.AgentSpec{agentSpec("Coder", "openai"), agentSpec("Reviewer", "anthropic")},
		CommunicationFlows: []config.Flow{{Source: "Coder", Target: "Reviewer"}},
	}
	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{
		"openai": llmtest.New(), "anthropic": llmtest.New(),
	})

	assert.True(t, ag.CanHandoff("Coder", "Reviewer"))
	assert.False(t, ag.CanHandoff("Reviewer", "Coder"))
	assert.Equal(t, []string{"Reviewer"}, ag.GetAllowedHandoffs("Coder"))
	assert.Equal(t, []string{"Coder", "Reviewer"}, ag.ListAgents())
}

func TestSharedStateGetSetClear(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents: []config.AgentSpec{agentSpec("Coder", "openai")},
	}
	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": llmtest.New()})

	assert.Equal(t, "fallback", ag.SharedStateGet("missing", "fallback"))
	ag.SharedStateSet("key", 42)
	assert.Equal(t, 42, ag.SharedStateGet("key", nil))
	ag.SharedStateClear()
	assert.Nil(t, ag.SharedStateGet("key", nil))
}

func TestProcess_SingleHandoffAdvancesToTarget(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents:             []config.AgentSpec{agentSpec("Coder", "openai"), agentSpec("Reviewer", "anthropic")},
		CommunicationFlows: []config.Flow{{Source: "Coder", Target: "Reviewer"}},
	}
	coderStub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc1", Name: "handoff_to_agent",
			Arguments: map[string]any{"agent_name": "Reviewer", "message": "please review this"},
		}},
	})
	reviewerStub := llmtest.New(llms.ProviderResponse{Content: "looks good", FinishReason: llms.FinishStop})

	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": coderStub, "anthropic": reviewerStub})

	var events []Event
	resp, err := ag.Process(context.Background(), "build the feature", nil, func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, "looks good", resp.Response)
	assert.Equal(t, "Reviewer", resp.FinalAgent)
	assert.Equal(t, []string{"Coder", "Reviewer"}, resp.AgentsUsed)
	require.Len(t, resp.Handoffs, 1)
	assert.Equal(t, "single", resp.Handoffs[0].Mode)
	assert.Equal(t, "Coder", resp.Handoffs[0].From)
	assert.Equal(t, "Reviewer", resp.Handoffs[0].To)

	var sawSwitch bool
	for _, e := range events {
		if e.Type == EventAgentSwitch && e.To == "Coder" {
			sawSwitch = true
		}
	}
	assert.True(t, sawSwitch)
}

func TestProcess_HandoffToUnauthorizedTargetTerminatesCleanly(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents: []config.AgentSpec{agentSpec("Coder", "openai"), agentSpec("Reviewer", "anthropic")},
		// no communication_flows: Coder -> Reviewer is not authorized
	}
	coderStub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc1", Name: "handoff_to_agent",
			Arguments: map[string]any{"agent_name": "Reviewer", "message": "please review"},
		}},
	})
	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": coderStub, "anthropic": llmtest.New()})

	var sawWarning bool
	resp, err := ag.Process(context.Background(), "hi", nil, func(e Event) {
		if e.Type == EventWarning {
			sawWarning = true
		}
	})
	require.NoError(t, err)
	assert.True(t, sawWarning)
	assert.Equal(t, "Coder", resp.FinalAgent)
	assert.Empty(t, resp.Handoffs)
}

func TestProcess_ParallelHandoffAggregatesAndAdvances(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Lead",
		Agents: []config.AgentSpec{
			agentSpec("Lead", "openai"), agentSpec("Worker1", "anthropic"), agentSpec("Worker2", "ollama"),
		},
		CommunicationFlows: []config.Flow{
			{Source: "Lead", Target: "Worker1"},
			{Source: "Lead", Target: "Worker2"},
		},
	}
	leadStub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc1", Name: "handoff_to_agent",
			Arguments: map[string]any{
				"agent_names":        []any{"Worker1", "Worker2"},
				"message":            "split the work",
				"aggregation_target": "Lead",
			},
		}},
	}, llms.ProviderResponse{Content: "merged result", FinishReason: llms.FinishStop})
	w1Stub := llmtest.New(llms.ProviderResponse{Content: "worker1 done", FinishReason: llms.FinishStop})
	w2Stub := llmtest.New(llms.ProviderResponse{Content: "worker2 done", FinishReason: llms.FinishStop})

	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": leadStub, "anthropic": w1Stub, "ollama": w2Stub})

	resp, err := ag.Process(context.Background(), "do the thing", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "merged result", resp.Response)
	assert.Equal(t, "Lead", resp.FinalAgent)
	require.Len(t, resp.ParallelResults, 2)
	require.Len(t, resp.Handoffs, 1)
	assert.Equal(t, "parallel", resp.Handoffs[0].Mode)
	assert.ElementsMatch(t, []string{"Worker1", "Worker2"}, resp.Handoffs[0].Targets)
}

func TestProcess_ParallelAggregationTargetFallsBackWhenUnauthorized(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Lead",
		Agents: []config.AgentSpec{
			agentSpec("Lead", "openai"), agentSpec("Worker1", "anthropic"), agentSpec("Worker2", "ollama"),
			agentSpec("Auditor", "groq"),
		},
		CommunicationFlows: []config.Flow{
			{Source: "Lead", Target: "Worker1"},
			{Source: "Lead", Target: "Worker2"},
		},
	}
	leadStub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc1", Name: "handoff_to_agent",
			Arguments: map[string]any{
				"agent_names":        []any{"Worker1", "Worker2"},
				"message":            "do it",
				"aggregation_target": "Auditor",
			},
		}},
	}, llms.ProviderResponse{Content: "lead merged it", FinishReason: llms.FinishStop})
	w1Stub := llmtest.New(llms.ProviderResponse{Content: "worker1 done", FinishReason: llms.FinishStop})
	w2Stub := llmtest.New(llms.ProviderResponse{Content: "worker2 done", FinishReason: llms.FinishStop})

	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{
		"openai": leadStub, "anthropic": w1Stub, "ollama": w2Stub, "groq": llmtest.New(),
	})

	var sawWarning bool
	resp, err := ag.Process(context.Background(), "go", nil, func(e Event) {
		if e.Type == EventWarning {
			sawWarning = true
		}
	})
	require.NoError(t, err)
	assert.True(t, sawWarning)
	assert.Equal(t, "Lead", resp.FinalAgent)
	assert.Equal(t, "lead merged it", resp.Response)
}

func TestProcess_ParallelBranchNestedHandoffRefused_ThreadPool(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Lead",
		Agents: []config.AgentSpec{
			agentSpec("Lead", "openai"), agentSpec("Worker1", "anthropic"), agentSpec("Worker2", "ollama"),
		},
		CommunicationFlows: []config.Flow{
			{Source: "Lead", Target: "Worker1"},
			{Source: "Lead", Target: "Worker2"},
		},
		UseThreadPool: true,
	}
	leadStub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc1", Name: "handoff_to_agent",
			Arguments: map[string]any{
				"agent_names":        []any{"Worker1", "Worker2"},
				"message":            "split the work",
				"aggregation_target": "Lead",
			},
		}},
	}, llms.ProviderResponse{Content: "merged result", FinishReason: llms.FinishStop})
	// Worker1 itself attempts a nested handoff once inside its branch; the
	// sentinel must refuse it at the call site (isParallelBranch=true),
	// matching serial mode's runBranchSerial fork (spec §4.5 rule 1 / S6).
	w1Stub := llmtest.New(llms.ProviderResponse{
		FinishReason: llms.FinishToolCalls,
		ToolCalls: []llms.ToolCall{{
			ID: "tc2", Name: "handoff_to_agent",
			Arguments: map[string]any{"agent_name": "Worker2", "message": "help me out"},
		}},
	}, llms.ProviderResponse{Content: "worker1 done", FinishReason: llms.FinishStop})
	w2Stub := llmtest.New(llms.ProviderResponse{Content: "worker2 done", FinishReason: llms.FinishStop})

	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": leadStub, "anthropic": w1Stub, "ollama": w2Stub})
	defer ag.Shutdown()

	resp, err := ag.Process(context.Background(), "do the thing", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "merged result", resp.Response)
	require.Len(t, resp.ParallelResults, 2)

	require.Len(t, w1Stub.Seen, 2, "worker1 must be called again after its nested handoff attempt is refused")
	lastTurn := w1Stub.Seen[1]
	var sawRefusal bool
	for _, m := range lastTurn {
		if m.Role == llms.RoleTool && strings.Contains(m.Content, "Handoff not allowed") {
			sawRefusal = true
		}
	}
	assert.True(t, sawRefusal, "expected worker1's nested handoff tool result to carry the sentinel's refusal text")
}

func TestShutdown_NoOpInSerialMode(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents: []config.AgentSpec{agentSpec("Coder", "openai")},
	}
	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": llmtest.New()})
	ag.Shutdown() // must not block or panic
}

func TestShutdown_JoinsThreadPoolWorkers(t *testing.T) {
	cfg := &config.AgencyConfig{
		Name: "a", EntryAgent: "Coder",
		Agents:        []config.AgentSpec{agentSpec("Coder", "openai")},
		UseThreadPool: true,
	}
	ag := newTestAgency(t, cfg, map[string]*llmtest.Stub{"openai": llmtest.New()})
	ag.Shutdown()
}
