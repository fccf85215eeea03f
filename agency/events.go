package agency

// EventType names one of the control loop's emitted event kinds (§4.7).
type EventType string

const (
	EventAgentStart        EventType = "agent_start"
	EventAgentSwitch       EventType = "agent_switch"
	EventAgentProgress     EventType = "agent_progress"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventParallelStart     EventType = "parallel_start"
	EventParallelBranchStart EventType = "parallel_branch_start"
	EventParallelBranchEnd EventType = "parallel_branch_end"
	EventParallelEnd       EventType = "parallel_end"
	EventWarning           EventType = "warning"
)

// Event is one tagged record delivered to the optional event callback.
// Fields unused by a given Type are left zero. Ordering guarantees
// (§6): agent_start precedes any event for that agent; tool_call{id}
// precedes tool_result{id} with the same id; parallel_start precedes
// its parallel_branch_* and parallel_end.
type Event struct {
	Type EventType

	From string
	To   string

	AgentName     string
	Preview       string
	ToolCallID    string
	ToolName      string
	ArgsPreview   map[string]any
	ResultPreview string
	Success       bool

	Targets        []string
	ParallelResults []ParallelResult

	Message string
}

// EventCallback receives Events; delivery is best-effort and a handler
// panic must never break the control loop.
type EventCallback func(Event)

func safeEmit(cb EventCallback, ev Event) {
	if cb == nil {
		return
	}
	defer func() { _ = recover() }()
	cb(ev)
}
