package handoffqueue

import (
	"context"
	"time"

	"github.com/kadirpekel/agency/agent"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/tools"
)

// Worker is a long-lived loop bound to one Agent, consuming task and
// shutdown messages from its mailbox (spec §6, C7 "Isolated Agent
// Worker"). One Worker per agent runs from Agency construction to
// shutdown in thread-pool mode.
type Worker struct {
	AgentName string
	Agent     *agent.Agent
	Queue     *Queue
	Tools     []llms.ToolSchema
	Executor  *tools.Registry
	MaxTurns  int

	done chan struct{}
}

// NewWorker builds a Worker bound to one agent and registers its
// mailbox on the queue. maxTurns<=0 falls back to the agent's own
// configured per-turn budget.
func NewWorker(name string, a *agent.Agent, q *Queue, toolSchemas []llms.ToolSchema, executor *tools.Registry, maxTurns int) *Worker {
	q.RegisterAgent(name)
	if maxTurns <= 0 {
		maxTurns = a.Config.MaxTurns
	}
	return &Worker{AgentName: name, Agent: a, Queue: q, Tools: toolSchemas, Executor: executor, MaxTurns: maxTurns, done: make(chan struct{})}
}

// Run consumes messages until a shutdown message arrives or ctx is
// cancelled; it is meant to be launched with `go w.Run(ctx)`.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		msg, err := w.Queue.Receive(ctx, w.AgentName)
		if err != nil {
			return
		}
		switch msg.Type {
		case MessageShutdown:
			return
		case MessageTask:
			w.handleTask(ctx, msg)
		}
	}
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() { <-w.done }

func (w *Worker) handleTask(ctx context.Context, msg Message) {
	// w.Executor is this worker's own registry, forked once at
	// construction (one per agent) so it persists read-files/todos
	// across tasks the same way the serial mode's shared root executor
	// does for a single agent; no further fork happens per ordinary task.
	//
	// Parallel-branch tasks are different: each one gets its own
	// isParallelBranch=true fork, taken fresh per call and discarded
	// after, mirroring runBranchSerial's ag.executor.Fork(name, true).
	// This makes the handoff sentinel refuse a nested handoff at the
	// call site instead of relying on the caller to discard it after
	// the fact.
	executor := w.Executor
	if msg.IsParallelBranch {
		executor = w.Executor.Fork(w.AgentName+"-branch", true)
	}

	start := time.Now()

	response := w.Agent.ProcessWithTools(ctx, msg.UserInput, w.Tools, executor, w.MaxTurns, nil, nil)
	pending := executor.TakePendingHandoff()
	elapsed := time.Since(start)

	outcome := &Outcome{
		Response:       response,
		Success:        true,
		ProcessingTime: elapsed,
		PendingHandoff: pending,
	}

	reply := Message{
		ID:      msg.ID,
		Type:    MessageResponse,
		ToAgent: msg.ReplyTo,
		Outcome: outcome,
	}
	_ = w.Queue.SendToAgent(reply)
}
