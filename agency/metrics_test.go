package agency

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agency/config"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/llms/llmtest"
	"github.com/kadirpekel/agency/tools"
)

func counterVecValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, cv.With(labels).Write(&m))
	return m.GetCounter().GetValue()
}

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_Observer_IgnoresInitialEntrySwitch(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	obs := m.Observer()
	obs(Event{Type: EventAgentSwitch, From: "", To: "Coder"})
	assert.Equal(t, float64(0), counterVecValue(t, m.Handoffs, prometheus.Labels{"mode": "single"}))
}

func TestMetrics_Observer_CountsRealHandoffsByMode(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	obs := m.Observer()
	obs(Event{Type: EventAgentSwitch, From: "Coder", To: "Reviewer"})
	obs(Event{Type: EventAgentSwitch, From: "Lead", To: "Worker1", Targets: []string{"Worker1", "Worker2"}})

	assert.Equal(t, float64(1), counterVecValue(t, m.Handoffs, prometheus.Labels{"mode": "single"}))
	assert.Equal(t, float64(1), counterVecValue(t, m.Handoffs, prometheus.Labels{"mode": "parallel"}))
}

func TestMetrics_Observer_CountsToolCallsBySuccess(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	obs := m.Observer()
	obs(Event{Type: EventToolResult, ToolName: "read", Success: true})
	obs(Event{Type: EventToolResult, ToolName: "read", Success: false})

	assert.Equal(t, float64(1), counterVecValue(t, m.ToolCalls, prometheus.Labels{"tool": "read", "success": "true"}))
	assert.Equal(t, float64(1), counterVecValue(t, m.ToolCalls, prometheus.Labels{"tool": "read", "success": "false"}))
}

func TestProcess_WithMetrics_ObservesTurnDurationAndFanout(t *testing.T) {
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

	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	reg := llms.NewRegistry()
	require.NoError(t, reg.RegisterProvider("openai", leadStub))
	require.NoError(t, reg.RegisterProvider("anthropic", w1Stub))
	require.NoError(t, reg.RegisterProvider("ollama", w2Stub))
	executor := tools.New("edit", "write")
	ag, err := New(cfg, reg, executor, nil)
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry())
	ag.WithMetrics(m)

	resp, err := ag.Process(context.Background(), "do the thing", nil, m.Observer())
	require.NoError(t, err)
	assert.Equal(t, "merged result", resp.Response)

	assert.Equal(t, float64(1), counterVecValue(t, m.Handoffs, prometheus.Labels{"mode": "parallel"}))
	assert.Equal(t, uint64(1), histogramSampleCount(t, m.ParallelFanout))
	assert.True(t, histogramSampleCount(t, m.TurnDuration) >= 2, "expected at least one observation per agent turn")
}
