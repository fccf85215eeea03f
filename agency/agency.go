// Package agency implements the control loop (C8) that coordinates a
// set of agents over a directed handoff graph: single-agent turns, tool
// dispatch, single and parallel handoffs, shared state, and the two
// scheduling modes (serial and thread-pool).
package agency

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agency/agent"
	"github.com/kadirpekel/agency/config"
	"github.com/kadirpekel/agency/handoffqueue"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/tools"
)

const previewLimit = 200

// Agency coordinates a fixed set of agents over a directed handoff
// graph (spec §3 Agency entity, §4.7).
type Agency struct {
	name       string
	entryAgent string
	agents     map[string]*agent.Agent
	agentNames []string
	flows      map[string]map[string]bool

	sharedContext string
	sharedMu      sync.RWMutex
	sharedState   map[string]any

	maxHandoffs int
	maxTurns    int
	toolSchemas []llms.ToolSchema
	executor    *tools.Registry

	useThreadPool bool
	threadTimeout time.Duration
	queue         *handoffqueue.Queue
	workers       map[string]*handoffqueue.Worker
	cancelWorkers context.CancelFunc
	workerGroup   sync.WaitGroup

	handoffHistory []HandoffResult
	log            *slog.Logger
	metrics        *Metrics
}

// New validates cfg's graph, constructs one Agent per AgentSpec (via
// registry.GetOrCreate, keyed by provider kind so agents sharing a
// provider share one client), loads shared_instructions if present, and
// — in thread-pool mode — spins up one worker per agent plus a
// coordinator mailbox (spec §4.7 "Construction...").
func New(cfg *config.AgencyConfig, reg *llms.Registry, executor *tools.Registry, log *slog.Logger) (*Agency, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sharedContext := ""
	if cfg.SharedInstructionsPath != "" {
		data, err := os.ReadFile(cfg.SharedInstructionsPath)
		if err != nil {
			return nil, fmt.Errorf("agency: reading shared_instructions %s: %w", cfg.SharedInstructionsPath, err)
		}
		sharedContext = string(data)
	}

	ag := &Agency{
		name:          cfg.Name,
		entryAgent:    cfg.EntryAgent,
		agents:        make(map[string]*agent.Agent, len(cfg.Agents)),
		flows:         make(map[string]map[string]bool),
		sharedContext: sharedContext,
		sharedState:   make(map[string]any),
		maxHandoffs:   cfg.MaxHandoffs,
		maxTurns:      cfg.MaxTurns,
		executor:      executor,
		useThreadPool: cfg.UseThreadPool,
		threadTimeout: time.Duration(cfg.ThreadResponseTimeout * float64(time.Second)),
		workers:       make(map[string]*handoffqueue.Worker),
		log:           log,
	}

	for _, spec := range cfg.Agents {
		provider, err := reg.GetOrCreate(spec.Config.Provider, spec.Config.Provider, llms.CompletionConfig{
			Model: spec.Config.Model, MaxTokens: spec.Config.MaxTokens,
			Temperature: spec.Config.Temperature, TopP: spec.Config.TopP,
			FrequencyPenalty: spec.Config.FrequencyPenalty, PresencePenalty: spec.Config.PresencePenalty,
		})
		if err != nil {
			return nil, fmt.Errorf("agency: agent %q: %w", spec.Name, err)
		}
		ag.agents[spec.Name] = agent.New(spec.Name, spec.Role, spec.SystemPrompt, spec.Config, provider, log)
		ag.agentNames = append(ag.agentNames, spec.Name)
	}

	for _, f := range cfg.CommunicationFlows {
		if ag.flows[f.Source] == nil {
			ag.flows[f.Source] = make(map[string]bool)
		}
		ag.flows[f.Source][f.Target] = true
	}

	if _, ok := ag.agents[ag.entryAgent]; !ok {
		return nil, fmt.Errorf("agency: entry_agent %q is not among agents", ag.entryAgent)
	}
	for src, targets := range ag.flows {
		if _, ok := ag.agents[src]; !ok {
			return nil, fmt.Errorf("agency: communication_flows source %q is not among agents", src)
		}
		for tgt := range targets {
			if _, ok := ag.agents[tgt]; !ok {
				return nil, fmt.Errorf("agency: communication_flows target %q is not among agents", tgt)
			}
		}
	}

	ag.toolSchemas = executor.Schemas()

	if ag.useThreadPool {
		ctx, cancel := context.WithCancel(context.Background())
		ag.cancelWorkers = cancel
		ag.queue = handoffqueue.New()
		ag.queue.RegisterAgent("coordinator")
		for name, a := range ag.agents {
			branch := executor.Fork(name, false)
			w := handoffqueue.NewWorker(name, a, ag.queue, ag.toolSchemas, branch, ag.turnBudget(a))
			ag.workers[name] = w
			ag.workerGroup.Add(1)
			go func(w *handoffqueue.Worker) {
				defer ag.workerGroup.Done()
				w.Run(ctx)
			}(w)
		}
	}

	return ag, nil
}

// WithMetrics attaches a Metrics recorder, wiring prometheus/client_golang
// counters and histograms into the control loop (optional; nil-safe).
func (ag *Agency) WithMetrics(m *Metrics) *Agency {
	ag.metrics = m
	return ag
}

// CanHandoff reports whether from is authorized to hand off to to
// (spec §4.7 "can_handoff").
func (ag *Agency) CanHandoff(from, to string) bool {
	return ag.flows[from] != nil && ag.flows[from][to]
}

// GetAllowedHandoffs lists the targets name may hand off to, sorted.
func (ag *Agency) GetAllowedHandoffs(name string) []string {
	targets := ag.flows[name]
	out := make([]string, 0, len(targets))
	for t := range targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// GetAgent returns the named agent, or nil if unknown.
func (ag *Agency) GetAgent(name string) *agent.Agent { return ag.agents[name] }

// ListAgents returns all agent names, sorted.
func (ag *Agency) ListAgents() []string {
	out := make([]string, len(ag.agentNames))
	copy(out, ag.agentNames)
	sort.Strings(out)
	return out
}

// SharedStateGet reads a key from the Agency-wide shared state map.
func (ag *Agency) SharedStateGet(key string, def any) any {
	ag.sharedMu.RLock()
	defer ag.sharedMu.RUnlock()
	if v, ok := ag.sharedState[key]; ok {
		return v
	}
	return def
}

// SharedStateSet writes a key into the Agency-wide shared state map.
func (ag *Agency) SharedStateSet(key string, value any) {
	ag.sharedMu.Lock()
	defer ag.sharedMu.Unlock()
	ag.sharedState[key] = value
}

// SharedStateClear empties the shared state map.
func (ag *Agency) SharedStateClear() {
	ag.sharedMu.Lock()
	defer ag.sharedMu.Unlock()
	ag.sharedState = make(map[string]any)
}

// Shutdown sends a shutdown message to every worker and joins them with
// a short timeout (spec §5 "Agency.shutdown is the only clean
// termination path in thread-pool mode"); a no-op in serial mode.
func (ag *Agency) Shutdown() {
	if !ag.useThreadPool {
		return
	}
	for name := range ag.workers {
		_ = ag.queue.SendToAgent(handoffqueue.NewShutdown(name))
	}
	done := make(chan struct{})
	go func() {
		ag.workerGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		ag.log.Warn("agency: shutdown timed out waiting for workers; cancelling")
	}
	if ag.cancelWorkers != nil {
		ag.cancelWorkers()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// turnBudget resolves the per-turn provider-call budget: the Agency's
// own max_turns override when configured, else the current agent's own
// AgentConfig.max_turns.
func (ag *Agency) turnBudget(a *agent.Agent) int {
	if ag.maxTurns > 0 {
		return ag.maxTurns
	}
	return a.Config.MaxTurns
}

// Process is the primary control loop (spec §4.7). use_tools etc. are
// implicit: tools/toolExecutor are always the Agency's own; callers
// that want the tool-free path should call an Agent's Process directly.
func (ag *Agency) Process(ctx context.Context, userInput string, onMaxTurns agent.OnMaxTurns, emit EventCallback) (*Response, error) {
	start := time.Now()
	ag.handoffHistory = nil

	seeded := userInput
	if ag.sharedContext != "" {
		seeded = ag.sharedContext + "\n\n" + userInput
	}

	currentName := ag.entryAgent
	currentMessage := seeded
	handoffCount := 0
	agentsUsed := []string{ag.entryAgent}
	var parallelResults []ParallelResult

	safeEmit(emit, Event{Type: EventAgentStart, AgentName: ag.entryAgent})
	safeEmit(emit, Event{Type: EventAgentSwitch, From: "", To: ag.entryAgent})

	var finalResponse string

	for handoffCount < ag.maxHandoffs {
		current := ag.agents[currentName]

		response, pending, err := ag.runTurn(ctx, current, currentMessage, onMaxTurns, emit)
		if err != nil {
			return nil, err
		}
		safeEmit(emit, Event{Type: EventAgentProgress, AgentName: currentName, Preview: truncate(response, previewLimit)})

		if pending == nil {
			finalResponse = response
			break
		}
		finalResponse = response

		advance := false
		switch pending.Mode {
		case tools.HandoffParallel:
			nextAgent, nextMessage, results, ok := ag.runParallel(ctx, currentName, pending, emit)
			parallelResults = append(parallelResults, results...)
			if ok {
				ag.handoffHistory = append(ag.handoffHistory, HandoffResult{From: currentName, To: nextAgent, Mode: "parallel", Message: pending.Message, Targets: pending.AgentNames, Aggregated: true})
				safeEmit(emit, Event{Type: EventAgentSwitch, From: currentName, To: nextAgent, Targets: pending.AgentNames})
				currentName = nextAgent
				currentMessage = nextMessage
				agentsUsed = append(agentsUsed, nextAgent)
				handoffCount++
				advance = true
			}
		default:
			target := pending.AgentName
			if !ag.validTarget(currentName, target) {
				safeEmit(emit, Event{Type: EventWarning, Message: fmt.Sprintf("handoff to %q from %q is not authorized or unknown; terminating with current response", target, currentName)})
			} else {
				nextMessage := ag.buildHandoffMessage(currentName, pending)
				ag.handoffHistory = append(ag.handoffHistory, HandoffResult{From: currentName, To: target, Mode: "single", Message: pending.Message})
				safeEmit(emit, Event{Type: EventAgentSwitch, From: currentName, To: target})
				currentName = target
				currentMessage = nextMessage
				agentsUsed = append(agentsUsed, target)
				handoffCount++
				advance = true
			}
		}
		if !advance {
			break
		}
	}

	return &Response{
		Response:        finalResponse,
		AgentsUsed:      agentsUsed,
		Handoffs:        ag.handoffHistory,
		TotalTime:       time.Since(start),
		FinalAgent:      currentName,
		ParallelResults: parallelResults,
	}, nil
}

func (ag *Agency) validTarget(from, to string) bool {
	if to == "" {
		return false
	}
	if _, ok := ag.agents[to]; !ok {
		return false
	}
	return ag.CanHandoff(from, to)
}

// buildHandoffMessage constructs the next branch's seed message (spec
// §4.7 step 2.c.iii): "[Handoff from {current}]\n\n{message}" plus
// optional [Additional Context] and [Shared Context] sections.
func (ag *Agency) buildHandoffMessage(from string, d *tools.HandoffDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Handoff from %s]\n\n%s", from, d.Message)
	if d.Context != "" {
		fmt.Fprintf(&b, "\n\n[Additional Context]\n%s", d.Context)
	}
	if ag.sharedContext != "" {
		fmt.Fprintf(&b, "\n\n[Shared Context]\n%s", ag.sharedContext)
	}
	return b.String()
}

// runTurn runs one agent turn in whichever mode the Agency was
// constructed with, then reads and clears its pending handoff (spec
// §4.7 step 2.a).
func (ag *Agency) runTurn(ctx context.Context, a *agent.Agent, message string, onMaxTurns agent.OnMaxTurns, emit EventCallback) (string, *tools.HandoffDescriptor, error) {
	ctx, span := ag.startTurnSpan(ctx, a.Name)
	defer span.End()

	start := time.Now()
	defer func() {
		if ag.metrics != nil {
			ag.metrics.TurnDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if ag.useThreadPool {
		return ag.runTurnThreadPool(ctx, a, message)
	}
	return ag.runTurnSerial(ctx, a, message, onMaxTurns, emit)
}

func (ag *Agency) runTurnSerial(ctx context.Context, a *agent.Agent, message string, onMaxTurns agent.OnMaxTurns, emit EventCallback) (string, *tools.HandoffDescriptor, error) {
	// Single-agent turns run on the root tool_executor directly (spec
	// §4.7 step 2.a); forking is reserved for parallel branches (2.c.iv).
	events := agentEventAdapter(a.Name, emit)
	response := a.ProcessWithTools(ctx, message, ag.toolSchemas, ag.executor, ag.turnBudget(a), onMaxTurns, events)
	return response, ag.executor.TakePendingHandoff(), nil
}

func (ag *Agency) runTurnThreadPool(ctx context.Context, a *agent.Agent, message string) (string, *tools.HandoffDescriptor, error) {
	task := handoffqueue.NewTask(a.Name, "coordinator", message)
	ag.queue.RegisterResponseWaiter(task.ID)
	if err := ag.queue.SendToAgent(task); err != nil {
		return "", nil, fmt.Errorf("agency: dispatching task to %q: %w", a.Name, err)
	}

	reply, err := ag.queue.WaitForResponse(task.ID, ag.threadTimeout)
	if err != nil {
		return "", nil, fmt.Errorf("agency: waiting for %q: %w", a.Name, err)
	}

	outcome := reply.Outcome
	if outcome == nil {
		return "", nil, fmt.Errorf("agency: worker %q returned no outcome", a.Name)
	}
	if !outcome.Success {
		return outcome.Response, nil, nil
	}
	pending, _ := outcome.PendingHandoff.(*tools.HandoffDescriptor)
	return outcome.Response, pending, nil
}

// agentEventAdapter bridges agent.Event into agency.Event so a single
// emit callback observes tool_call/tool_result across both levels.
func agentEventAdapter(agentName string, emit EventCallback) agent.EventCallback {
	if emit == nil {
		return nil
	}
	return func(ev agent.Event) {
		emit(Event{
			Type:          EventType(ev.Type),
			AgentName:     agentName,
			ToolCallID:    ev.ToolCallID,
			ToolName:      ev.ToolName,
			ArgsPreview:   ev.ArgsPreview,
			ResultPreview: ev.ResultPreview,
			Success:       ev.Success,
		})
	}
}

// runParallel fans out a parallel handoff to its validated targets,
// aggregates the branch results, and returns the chosen aggregator plus
// the aggregation prompt (spec §4.7 step 2.c).
func (ag *Agency) runParallel(ctx context.Context, from string, d *tools.HandoffDescriptor, emit EventCallback) (string, string, []ParallelResult, bool) {
	var targets []string
	for _, t := range d.AgentNames {
		if ag.validTarget(from, t) {
			targets = append(targets, t)
		} else {
			safeEmit(emit, Event{Type: EventWarning, Message: fmt.Sprintf("dropping invalid parallel handoff target %q from %q", t, from)})
		}
	}
	if len(targets) == 0 {
		safeEmit(emit, Event{Type: EventWarning, Message: "all parallel handoff targets were invalid; terminating with current response"})
		return "", "", nil, false
	}

	safeEmit(emit, Event{Type: EventParallelStart, From: from, Targets: targets})
	if ag.metrics != nil {
		ag.metrics.ParallelFanout.Observe(float64(len(targets)))
	}

	branchMessage := ag.buildHandoffMessage(from, d)
	results := ag.dispatchBranches(ctx, targets, branchMessage, emit)

	safeEmit(emit, Event{Type: EventParallelEnd, ParallelResults: results})

	aggregator := d.AggregationTarget
	if aggregator != from && !ag.validTarget(from, aggregator) {
		safeEmit(emit, Event{Type: EventWarning, Message: fmt.Sprintf("aggregation_target %q not allowed from %q; falling back to %q", aggregator, from, from)})
		aggregator = from
	}

	prompt := ag.buildAggregationPrompt(d.Message, results)
	return aggregator, prompt, results, true
}

// dispatchBranches runs each target's full process_with_tools on a
// forked, isolated tool executor, concurrently, and collects results
// labeled by agent name (spec §4.7 step 2.c.iv-v; §5 "Serial mode").
func (ag *Agency) dispatchBranches(ctx context.Context, targets []string, message string, emit EventCallback) []ParallelResult {
	results := make([]ParallelResult, len(targets))

	if ag.useThreadPool {
		var wg sync.WaitGroup
		for i, name := range targets {
			i, name := i, name
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = ag.runBranchThreadPool(name, message, emit)
			}()
		}
		wg.Wait()
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range targets {
		i, name := i, name
		g.Go(func() error {
			results[i] = ag.runBranchSerial(gctx, name, message, emit)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (ag *Agency) runBranchSerial(ctx context.Context, name, message string, emit EventCallback) ParallelResult {
	safeEmit(emit, Event{Type: EventParallelBranchStart, AgentName: name})
	start := time.Now()

	a := ag.agents[name]
	branch := ag.executor.Fork(name, true)
	events := agentEventAdapter(name, emit)
	response := a.ProcessWithTools(ctx, message, ag.toolSchemas, branch, ag.turnBudget(a), nil, events)

	if nested := branch.TakePendingHandoff(); nested != nil {
		safeEmit(emit, Event{Type: EventWarning, Message: fmt.Sprintf("agent %q attempted a nested handoff from a parallel branch; discarded", name)})
	}

	elapsed := time.Since(start)
	safeEmit(emit, Event{Type: EventParallelBranchEnd, AgentName: name, Success: true})
	return ParallelResult{Agent: name, Response: response, Time: elapsed, Success: true}
}

func (ag *Agency) runBranchThreadPool(name, message string, emit EventCallback) ParallelResult {
	safeEmit(emit, Event{Type: EventParallelBranchStart, AgentName: name})
	start := time.Now()

	// NewBranchTask flags this task isParallelBranch=true so the worker
	// runs it against a forked, isolated registry that refuses a nested
	// handoff at the sentinel call site, mirroring runBranchSerial's
	// ag.executor.Fork(name, true).
	task := handoffqueue.NewBranchTask(name, "coordinator", message)
	ag.queue.RegisterResponseWaiter(task.ID)
	if err := ag.queue.SendToAgent(task); err != nil {
		safeEmit(emit, Event{Type: EventParallelBranchEnd, AgentName: name, Success: false})
		return ParallelResult{Agent: name, Success: false, Error: err.Error(), Time: time.Since(start)}
	}

	reply, err := ag.queue.WaitForResponse(task.ID, ag.threadTimeout)
	elapsed := time.Since(start)
	if err != nil {
		safeEmit(emit, Event{Type: EventParallelBranchEnd, AgentName: name, Success: false})
		return ParallelResult{Agent: name, Success: false, Error: err.Error(), Time: elapsed}
	}

	if reply.Outcome != nil {
		if nested, ok := reply.Outcome.PendingHandoff.(*tools.HandoffDescriptor); ok && nested != nil {
			safeEmit(emit, Event{Type: EventWarning, Message: fmt.Sprintf("agent %q attempted a nested handoff from a parallel branch; discarded", name)})
		}
	}

	safeEmit(emit, Event{Type: EventParallelBranchEnd, AgentName: name, Success: true})
	return ParallelResult{Agent: name, Response: reply.Outcome.Response, Time: elapsed, Success: reply.Outcome.Success, Error: reply.Outcome.Error}
}

// buildAggregationPrompt summarizes the original handoff message and
// each branch's labeled result, instructing the aggregator to merge and
// proceed (spec §4.7 step 2.c.vii).
func (ag *Agency) buildAggregationPrompt(original string, results []ParallelResult) string {
	var b strings.Builder
	b.WriteString("Multiple agents were consulted in parallel. Merge their results into one coherent response.\n\n")
	fmt.Fprintf(&b, "Original request: %s\n\n", original)
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", r.Agent, r.Response)
		} else {
			fmt.Fprintf(&b, "[%s] failed: %s\n\n", r.Agent, r.Error)
		}
	}
	return b.String()
}
