package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/agency/tools"
)

// TodoStatus is one of the three lifecycle states a todo item may hold.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

type TodoItem struct {
	Task     string     `json:"task" mapstructure:"task"`
	Status   TodoStatus `json:"status" mapstructure:"status"`
	Priority string     `json:"priority" mapstructure:"priority"`
}

type TodoWriteArgs struct {
	Todos []TodoItem `json:"todos" jsonschema:"required,description=Full replacement list of todo items"`
}

// NewTodoWrite builds the todo_write tool. Invariant (§8.2): after a
// successful call, at most one todo may have status in_progress. The
// full list is written to Context["todos"] (consumed by the Agent's
// one-by-one gate, §4.4 GATE state).
func NewTodoWrite() *tools.Def {
	return &tools.Def{
		Name:        "todo_write",
		Description: "Replace the current todo list; enforces at most one in-progress item.",
		ArgsType:    TodoWriteArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a TodoWriteArgs
			decodeInto(args, &a)
			return todoWriteImpl(tc, a)
		},
	}
}

func todoWriteImpl(tc *tools.Context, a TodoWriteArgs) (string, error) {
	inProgress := 0
	for _, t := range a.Todos {
		if t.Status == TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return "", fmt.Errorf("at most one todo may be in_progress, got %d", inProgress)
	}

	// Store as []any of map[string]any so Context.Get("todos") consumers
	// (the Agent's gate) can read status via plain map access regardless
	// of whether the context crossed a serialization boundary.
	stored := make([]any, 0, len(a.Todos))
	for _, t := range a.Todos {
		stored = append(stored, map[string]any{
			"task":     t.Task,
			"status":   string(t.Status),
			"priority": t.Priority,
		})
	}
	tc.Set("todos", stored)

	var out strings.Builder
	fmt.Fprintf(&out, "Todos (%d):\n", len(a.Todos))
	for _, t := range a.Todos {
		fmt.Fprintf(&out, "- [%s] %s (%s)\n", t.Status, t.Task, t.Priority)
	}
	return out.String(), nil
}
