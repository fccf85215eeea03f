package agency

import "time"

// ParallelResult labels one branch's outcome from a parallel handoff
// fan-out (§4.7 step 2.c.v).
type ParallelResult struct {
	Agent    string
	Response string
	Time     time.Duration
	Success  bool
	Error    string
}

// HandoffResult records one agent-switch step taken during a process()
// call, accumulated into handoff_history (§3 Agency entity).
type HandoffResult struct {
	From      string
	To        string
	Mode      string // "single" or "parallel"
	Message   string
	Targets   []string
	Aggregated bool
}

// Response is the result of Agency.process (§4.7 step 3).
type Response struct {
	Response        string
	AgentsUsed      []string
	Handoffs        []HandoffResult
	TotalTime       time.Duration
	FinalAgent      string
	ParallelResults []ParallelResult
}
