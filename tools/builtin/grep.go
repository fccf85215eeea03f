package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/kadirpekel/agency/tools"
)

type GrepArgs struct {
	Pattern     string `json:"pattern" jsonschema:"required,description=Regex pattern to search for"`
	Path        string `json:"path,omitempty" jsonschema:"description=File or directory to search"`
	Glob        string `json:"glob,omitempty" jsonschema:"description=Glob filter for files to search"`
	OutputMode  string `json:"output_mode,omitempty" jsonschema:"description=files_with_matches, content, or count,default=files_with_matches"`
	BeforeLines int    `json:"B,omitempty" jsonschema:"description=Lines of context before each match"`
	AfterLines  int    `json:"A,omitempty" jsonschema:"description=Lines of context after each match"`
	Context     int    `json:"C,omitempty" jsonschema:"description=Lines of context around each match"`
	LineNumbers bool   `json:"n,omitempty" jsonschema:"description=Show line numbers"`
	IgnoreCase  bool   `json:"i,omitempty" jsonschema:"description=Case-insensitive match"`
	Type        string `json:"type,omitempty" jsonschema:"description=File type filter, e.g. go"`
	HeadLimit   int    `json:"head_limit,omitempty" jsonschema:"description=Limit the number of output lines"`
	Multiline   bool   `json:"multiline,omitempty" jsonschema:"description=Allow . to match newlines"`
}

// NewGrep builds the grep tool by shelling out to ripgrep, returning its
// output prefixed with "Exit code: N" (§6).
func NewGrep() *tools.Def {
	return &tools.Def{
		Name:        "grep",
		Description: "Search file contents with ripgrep.",
		ArgsType:    GrepArgs{},
		Handler: func(ctx context.Context, _ *tools.Context, args map[string]any) (string, error) {
			var a GrepArgs
			decodeInto(args, &a)
			return grepImpl(ctx, a)
		},
	}
}

func grepImpl(ctx context.Context, a GrepArgs) (string, error) {
	rgArgs := []string{}

	switch a.OutputMode {
	case "content":
		// default rg behavior already prints content
	case "count":
		rgArgs = append(rgArgs, "--count")
	default:
		rgArgs = append(rgArgs, "--files-with-matches")
	}

	if a.IgnoreCase {
		rgArgs = append(rgArgs, "-i")
	}
	if a.LineNumbers {
		rgArgs = append(rgArgs, "-n")
	}
	if a.Multiline {
		rgArgs = append(rgArgs, "-U", "--multiline-dotall")
	}
	if a.BeforeLines > 0 {
		rgArgs = append(rgArgs, "-B", strconv.Itoa(a.BeforeLines))
	}
	if a.AfterLines > 0 {
		rgArgs = append(rgArgs, "-A", strconv.Itoa(a.AfterLines))
	}
	if a.Context > 0 {
		rgArgs = append(rgArgs, "-C", strconv.Itoa(a.Context))
	}
	if a.Glob != "" {
		rgArgs = append(rgArgs, "--glob", a.Glob)
	}
	if a.Type != "" {
		rgArgs = append(rgArgs, "--type", a.Type)
	}
	rgArgs = append(rgArgs, a.Pattern)
	if a.Path != "" {
		rgArgs = append(rgArgs, a.Path)
	}

	cmd := exec.CommandContext(ctx, "rg", rgArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("failed to run ripgrep: %w", err)
		}
	}

	out := stdout.String()
	if a.HeadLimit > 0 {
		out = headLines(out, a.HeadLimit)
	}

	return fmt.Sprintf("Exit code: %d\n%s", exitCode, out), nil
}

func headLines(s string, n int) string {
	count := 0
	for i, c := range s {
		if c == '\n' {
			count++
			if count == n {
				return s[:i+1]
			}
		}
	}
	return s
}
