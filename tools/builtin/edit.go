package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/agency/tools"
)

type EditArgs struct {
	FilePath   string `json:"file_path" jsonschema:"required,description=Absolute path to the file to edit"`
	OldString  string `json:"old_string" jsonschema:"required,description=Exact text to replace"`
	NewString  string `json:"new_string" jsonschema:"required,description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring a unique match,default=false"`
}

// NewEdit builds the edit tool. Preconditions per §6: file exists, has
// been read in this context, old_string present and unique unless
// replace_all; old must differ from new (idempotence law, §8).
func NewEdit() *tools.Def {
	return &tools.Def{
		Name:        "edit",
		Description: "Replace an exact string in a file that has already been read in this session.",
		ArgsType:    EditArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a EditArgs
			decodeInto(args, &a)
			return editImpl(tc, a)
		},
	}
}

func editImpl(tc *tools.Context, a EditArgs) (string, error) {
	if !filepath.IsAbs(a.FilePath) {
		return "", fmt.Errorf("file_path must be absolute: %s", a.FilePath)
	}
	if a.OldString == a.NewString {
		return "", fmt.Errorf("old_string and new_string must differ")
	}
	if !tc.WasFileRead(a.FilePath) {
		return "", fmt.Errorf("file must be read before editing: %s", a.FilePath)
	}

	content, err := os.ReadFile(a.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	count := strings.Count(text, a.OldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in %s", a.FilePath)
	}
	if count > 1 && !a.ReplaceAll {
		return "", fmt.Errorf("old_string is not unique in %s (%d matches); pass replace_all to replace all", a.FilePath, count)
	}

	var updated string
	if a.ReplaceAll {
		updated = strings.ReplaceAll(text, a.OldString, a.NewString)
	} else {
		updated = strings.Replace(text, a.OldString, a.NewString, 1)
	}

	info, err := os.Stat(a.FilePath)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(a.FilePath, []byte(updated), mode); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("Edited %s", a.FilePath), nil
}
