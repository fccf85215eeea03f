package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kadirpekel/agency/tools"
)

const bashOutputTailLimit = 30000

type BashArgs struct {
	Command            string `json:"command" jsonschema:"required,description=Shell command to run"`
	TimeoutMs          int    `json:"timeout_ms,omitempty" jsonschema:"description=Timeout in milliseconds,maximum=600000"`
	CommandDescription string `json:"command_description,omitempty" jsonschema:"description=Short human-readable description of the command"`
}

// NewBash builds the bash tool: runs command, returns
// "Exit code: N\n<output>" truncated to the last 30000 chars (§6).
// Subprocess start/exit is logged at Debug via go-hclog, following the
// teacher's use of go-hclog around subprocess-adjacent plugin machinery.
func NewBash(logger hclog.Logger) *tools.Def {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &tools.Def{
		Name:        "bash",
		Description: "Run a shell command and return its exit code and output.",
		ArgsType:    BashArgs{},
		Handler: func(ctx context.Context, _ *tools.Context, args map[string]any) (string, error) {
			var a BashArgs
			decodeInto(args, &a)
			return bashImpl(ctx, logger, a)
		},
	}
}

func bashImpl(ctx context.Context, logger hclog.Logger, a BashArgs) (string, error) {
	timeout := 120 * time.Second
	if a.TimeoutMs > 0 {
		if a.TimeoutMs > 600000 {
			a.TimeoutMs = 600000
		}
		timeout = time.Duration(a.TimeoutMs) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("running command", "command", a.Command, "description", a.CommandDescription)

	cmd := exec.CommandContext(runCtx, "bash", "-c", a.Command)
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	logger.Debug("command finished", "command", a.Command, "exit_code", exitCode)

	text := string(output)
	if len(text) > bashOutputTailLimit {
		text = text[len(text)-bashOutputTailLimit:]
	}

	return fmt.Sprintf("Exit code: %d\n%s", exitCode, strings.TrimRight(text, "\n")), nil
}
