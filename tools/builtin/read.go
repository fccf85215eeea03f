// Package builtin provides the concrete tool bodies named in the system's
// tool contracts (§6): read, edit, write, bash, glob, grep, todo_write,
// notebook_read, notebook_edit. Their preconditions and side effects are
// in scope; the mechanics below are one reasonable implementation of
// contracts the core treats as an external collaborator.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/agency/tools"
)

// ReadArgs mirrors the teacher's ReadFileArgs jsonschema-tag convention.
type ReadArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Absolute path to the file to read"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=Starting line number (1-indexed)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

// NewRead builds the read tool: read(file_path, offset?, limit?) -> text
// with line numbers; side effect: marks the absolute path as read in the
// current branch Context (§6), which edit/write later check.
func NewRead() *tools.Def {
	return &tools.Def{
		Name:        "read",
		Description: "Read a file's contents with line numbers, optionally starting at offset for limit lines.",
		ArgsType:    ReadArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a ReadArgs
			decodeInto(args, &a)
			return readImpl(tc, a)
		},
	}
}

func readImpl(tc *tools.Context, a ReadArgs) (string, error) {
	if !filepath.IsAbs(a.FilePath) {
		return "", fmt.Errorf("file_path must be absolute: %s", a.FilePath)
	}

	content, err := os.ReadFile(a.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	tc.MarkFileRead(a.FilePath)

	lines := strings.Split(string(content), "\n")
	start := 0
	if a.Offset > 0 {
		start = a.Offset - 1
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	if a.Limit > 0 && start+a.Limit < end {
		end = start + a.Limit
	}

	var out strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&out, "%6d\t%s\n", i+1, lines[i])
	}
	return out.String(), nil
}

// decodeInto is a thin helper to shuttle an already-validated
// map[string]any back into a typed struct for a handler's own use; the
// Registry already round-tripped args through ArgsType before dispatch.
func decodeInto(args map[string]any, out any) {
	_, _ = marshalUnmarshal(args, out)
}
