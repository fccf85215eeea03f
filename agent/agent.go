// Package agent implements the bounded tool-calling turn loop (C4): an
// Agent owns a name, role, system prompt, model config and message
// history, runs turns against a llms.Provider, enforces the one-by-one
// gate while todos are active, and signals handoffs via the
// handoff_to_agent sentinel tool without executing them itself.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/agency/config"
	"github.com/kadirpekel/agency/llms"
	"github.com/kadirpekel/agency/tools"
)

const defaultMaxTurns = 1000
const resumeMaxTurns = 30

// ToolResultPreviewLimit bounds how much of a tool result is kept in a
// tool_result event (§4.7: "result_preview<=2000 chars").
const ToolResultPreviewLimit = 2000

// Event is emitted during process_with_tools for observability; delivery
// is best-effort and handler panics must never break the loop (§4.7,
// §9 "Event emission").
type Event struct {
	Type         string
	AgentName    string
	ToolCallID   string
	ToolName     string
	ArgsPreview  map[string]any
	ResultPreview string
	Success      bool
	Preview      string
}

// EventCallback receives Events; the Agent recovers any panic raised
// inside it so a broken handler cannot break the control loop.
type EventCallback func(Event)

func safeEmit(cb EventCallback, ev Event) {
	if cb == nil {
		return
	}
	defer func() { _ = recover() }()
	cb(ev)
}

// OnMaxTurns is invoked when a turn budget is exhausted; if it returns
// true the Agent resumes with a small default budget and an empty input,
// continuing the same conversation (§4.4 "Budget exhaustion").
type OnMaxTurns func() bool

// Agent is one named conversational participant (§3 Agent entity).
type Agent struct {
	Name         string
	Role         string
	SystemPrompt string
	Config       config.AgentConfig
	Provider     llms.Provider

	history      []llms.Message
	log          *slog.Logger
	lastExecutor *tools.Registry
}

// New constructs an Agent bound to a provider. History starts empty;
// system_prompt is never part of history (§3).
func New(name, role, systemPrompt string, cfg config.AgentConfig, provider llms.Provider, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		Name:         name,
		Role:         role,
		SystemPrompt: systemPrompt,
		Config:       cfg,
		Provider:     provider,
		log:          log,
	}
}

// History returns a copy of the agent's message history.
func (a *Agent) History() []llms.Message {
	out := make([]llms.Message, len(a.history))
	copy(out, a.history)
	return out
}

// ClearHistory empties history without touching the system prompt (§3).
func (a *Agent) ClearHistory() { a.history = nil }

func (a *Agent) completionConfig() llms.CompletionConfig {
	return llms.CompletionConfig{
		Model:            a.Config.Model,
		MaxTokens:        a.Config.MaxTokens,
		Temperature:      a.Config.Temperature,
		TopP:             a.Config.TopP,
		FrequencyPenalty: a.Config.FrequencyPenalty,
		PresencePenalty:  a.Config.PresencePenalty,
	}
}

// Process is the simple, tool-free path: appends user_input, retries up
// to max_retries with retry_delay back-off, appends and returns the
// assistant content on success (§4.4).
func (a *Agent) Process(ctx context.Context, userInput string) (string, error) {
	a.history = append(a.history, llms.Message{Role: llms.RoleUser, Content: userInput})

	maxRetries := a.Config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := a.Config.RetryDelay

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			a.log.Debug("agent.process retry", "agent", a.Name, "attempt", attempt)
			time.Sleep(time.Duration(delay * float64(time.Second)))
		}
		resp, err := a.Provider.CreateCompletion(ctx, a.history, a.SystemPrompt, a.completionConfig(), nil)
		if err != nil {
			lastErr = err
			continue
		}
		a.history = append(a.history, llms.Message{Role: llms.RoleAssistant, Content: resp.Content})
		return resp.Content, nil
	}
	return "", fmt.Errorf("agent %s: all %d attempts failed: %w", a.Name, maxRetries, lastErr)
}

// ProcessWithTools is the primary entry point (§4.4): a bounded loop of
// REQUEST -> OBSERVE -> (stop | GATE -> DISPATCH -> (HANDOFF-CHECK | NEXT)).
// On a registry that is not a parallel branch, it returns early with a
// status string the instant a handoff_to_agent call is dispatched; the
// caller (normally the Agency) reads the pending handoff off executor
// afterwards. Inside a parallel branch the sentinel's refusal is fed back
// as a tool result and the loop continues.
func (a *Agent) ProcessWithTools(
	ctx context.Context,
	userInput string,
	toolSchemas []llms.ToolSchema,
	executor *tools.Registry,
	maxTurns int,
	onMaxTurns OnMaxTurns,
	emit EventCallback,
) string {
	if userInput != "" {
		a.history = append(a.history, llms.Message{Role: llms.RoleUser, Content: userInput})
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	a.lastExecutor = executor

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := a.Provider.CreateCompletion(ctx, a.history, a.SystemPrompt, a.completionConfig(), toolSchemas)
		if err != nil {
			// Provider errors inside the loop are caught and returned as
			// an error string; the loop terminates immediately (§4.4
			// Failure semantics).
			return fmt.Sprintf("I apologize, but I encountered an error: %v", err)
		}

		assistantMsg := llms.Message{Role: llms.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		a.history = append(a.history, assistantMsg)

		switch resp.FinishReason {
		case llms.FinishStop:
			if resp.Content == "" {
				return "I've completed the task."
			}
			return resp.Content
		case llms.FinishToolCalls:
			if result, handedOff := a.runToolTurn(ctx, resp.ToolCalls, executor, emit); handedOff {
				return result
			}
			continue
		default:
			if resp.Content != "" {
				return resp.Content
			}
			return fmt.Sprintf("Unexpected finish reason: %s", resp.FinishReason)
		}
	}

	if onMaxTurns != nil && onMaxTurns() {
		return a.ProcessWithTools(ctx, "", toolSchemas, executor, resumeMaxTurns, nil, emit)
	}
	return "Max steps reached without completing the task."
}

// runToolTurn implements GATE, DISPATCH, HANDOFF-CHECK, and NEXT for one
// assistant turn's tool calls. It returns (result, true) when a handoff
// sentinel call terminates the turn early.
func (a *Agent) runToolTurn(ctx context.Context, calls []llms.ToolCall, executor *tools.Registry, emit EventCallback) (string, bool) {
	toExecute, toSkip := a.gate(calls)

	var toolMessages []llms.Message
	for _, call := range toExecute {
		safeEmit(emit, Event{Type: "tool_call", AgentName: a.Name, ToolCallID: call.ID, ToolName: call.Name, ArgsPreview: safeArgsPreview(call.Name, call.Arguments)})

		start := time.Now()
		result := executor.Execute(ctx, call.Name, call.Arguments)
		elapsed := time.Since(start)

		success := true
		if len(result) >= len("Error executing tool:") && result[:len("Error executing tool:")] == "Error executing tool:" {
			success = false
		}
		safeEmit(emit, Event{Type: "tool_result", AgentName: a.Name, ToolCallID: call.ID, ToolName: call.Name, ResultPreview: truncate(result, ToolResultPreviewLimit), Success: success})
		a.log.Debug("tool executed", "agent", a.Name, "tool", call.Name, "elapsed", elapsed, "success", success)

		toolMessages = append(toolMessages, llms.Message{Role: llms.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: result})

		if call.Name == "handoff_to_agent" && !executor.IsParallelBranch() {
			a.history = append(a.history, toolMessages...)
			return fmt.Sprintf("Handoff to %v requested.", call.Arguments["agent_name"]), true
		}
	}

	for _, skipped := range toSkip {
		toolMessages = append(toolMessages, llms.Message{
			Role:       llms.RoleTool,
			ToolCallID: skipped.ID,
			Name:       skipped.Name,
			Content:    "Tool execution skipped: ONE-BY-ONE enforcement is active. Please complete the current task before starting the next one.",
		})
	}

	a.history = append(a.history, toolMessages...)
	return "", false
}

// gate implements §4.4's GATE state and the Open-Question decision
// (SPEC_FULL §4.2): when active todos exist and more than one non-
// todo_write call was requested, keep every todo_write call plus the
// first non-todo_write call; drop the rest.
func (a *Agent) gate(calls []llms.ToolCall) (toExecute, toSkip []llms.ToolCall) {
	hasActiveTodos := false
	if todos, ok := executorTodos(a); ok {
		for _, t := range todos {
			status, _ := t["status"].(string)
			if status == "pending" || status == "in_progress" {
				hasActiveTodos = true
				break
			}
		}
	}

	nonTodoCount := 0
	for _, c := range calls {
		if c.Name != "todo_write" {
			nonTodoCount++
		}
	}

	if !hasActiveTodos || nonTodoCount <= 1 {
		return calls, nil
	}

	firstNonTodoTaken := false
	for _, c := range calls {
		switch {
		case c.Name == "todo_write":
			toExecute = append(toExecute, c)
		case !firstNonTodoTaken:
			toExecute = append(toExecute, c)
			firstNonTodoTaken = true
		default:
			toSkip = append(toSkip, c)
		}
	}
	return toExecute, toSkip
}

// executorTodos is a seam so gate() can inspect the branch Context's
// todos without the agent package importing tools.Context's internals;
// the Agency always calls ProcessWithTools with its own Context, which
// this package reaches through a small accessor on Registry.
func executorTodos(a *Agent) ([]map[string]any, bool) {
	if a.lastExecutor == nil {
		return nil, false
	}
	raw := a.lastExecutor.Context().Get("todos", nil)
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// safeArgsPreview redacts tool arguments for events, matching the
// original's safe_args per-tool-name table (SPEC_FULL §3 "Safe argument
// previews").
func safeArgsPreview(name string, args map[string]any) map[string]any {
	switch name {
	case "todo_write":
		count := 0
		if todos, ok := args["todos"].([]any); ok {
			count = len(todos)
		}
		return map[string]any{"todo_count": count}
	case "read", "write", "edit":
		return map[string]any{"file_path": args["file_path"]}
	case "bash":
		return map[string]any{"command": args["command"]}
	case "grep":
		return map[string]any{"pattern": args["pattern"], "path": args["path"]}
	case "glob":
		return map[string]any{"pattern": args["pattern"]}
	case "handoff_to_agent":
		preview := ""
		if m, ok := args["message"].(string); ok {
			preview = truncate(m, 120)
		}
		return map[string]any{"agent_name": args["agent_name"], "message_preview": preview}
	default:
		out := map[string]any{}
		for k, v := range args {
			switch v.(type) {
			case string, int, int64, float64, bool:
				out[k] = v
			}
		}
		return out
	}
}
