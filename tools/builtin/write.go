package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kadirpekel/agency/tools"
)

type WriteArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Absolute path to write"`
	Content  string `json:"content" jsonschema:"required,description=Full file content"`
}

// NewWrite builds the write tool. Precondition per §6: writing to an
// existing file requires it to have been read first in this context;
// parent directories are created as needed.
func NewWrite() *tools.Def {
	return &tools.Def{
		Name:        "write",
		Description: "Write full file content, creating parent directories as needed.",
		ArgsType:    WriteArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a WriteArgs
			decodeInto(args, &a)
			return writeImpl(tc, a)
		},
	}
}

func writeImpl(tc *tools.Context, a WriteArgs) (string, error) {
	if !filepath.IsAbs(a.FilePath) {
		return "", fmt.Errorf("file_path must be absolute: %s", a.FilePath)
	}

	if _, err := os.Stat(a.FilePath); err == nil {
		if !tc.WasFileRead(a.FilePath) {
			return "", fmt.Errorf("existing file must be read before overwriting: %s", a.FilePath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(a.FilePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(a.FilePath, []byte(a.Content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	tc.MarkFileRead(a.FilePath)

	return fmt.Sprintf("Wrote %s", a.FilePath), nil
}
