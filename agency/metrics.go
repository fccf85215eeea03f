package agency

import "github.com/prometheus/client_golang/prometheus"

// Metrics wires prometheus/client_golang counters and histograms into
// the control loop. Attaching one is optional (WithMetrics); nothing in
// the core depends on it being present.
type Metrics struct {
	Handoffs      *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	ParallelFanout prometheus.Histogram
}

// NewMetrics registers a fresh set of collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agency_handoffs_total",
			Help: "Total handoffs by mode (single, parallel).",
		}, []string{"mode"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agency_tool_calls_total",
			Help: "Total tool calls by tool name and success.",
		}, []string{"tool", "success"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "agency_turn_duration_seconds",
			Help: "Duration of one agent turn (process_with_tools call).",
		}),
		ParallelFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "agency_parallel_fanout_size",
			Help: "Number of branches in a parallel handoff fan-out.",
		}),
	}
	reg.MustRegister(m.Handoffs, m.ToolCalls, m.TurnDuration, m.ParallelFanout)
	return m
}

// Observer returns an EventCallback that records tool_call/tool_result
// events into m, suitable for composing with a user-supplied callback.
func (m *Metrics) Observer() EventCallback {
	if m == nil {
		return nil
	}
	return func(ev Event) {
		switch ev.Type {
		case EventToolResult:
			success := "true"
			if !ev.Success {
				success = "false"
			}
			m.ToolCalls.WithLabelValues(ev.ToolName, success).Inc()
		case EventAgentSwitch:
			if ev.From == "" {
				// The initial entry-agent switch (spec §4.7 step 1) is not
				// a real handoff; only actual agent-to-agent transitions
				// should count.
				return
			}
			mode := "single"
			if len(ev.Targets) > 0 {
				mode = "parallel"
			}
			m.Handoffs.WithLabelValues(mode).Inc()
		}
	}
}

// ComposeEventCallbacks chains multiple callbacks, delivering every
// event to each in turn; a panic in one does not prevent delivery to
// the rest (each receiver is wrapped by safeEmit already).
func ComposeEventCallbacks(callbacks ...EventCallback) EventCallback {
	return func(ev Event) {
		for _, cb := range callbacks {
			safeEmit(cb, ev)
		}
	}
}
