package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/agency/tools"
)

type GlobArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern, e.g. **/*.go"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search, defaults to the current directory"`
}

// NewGlob builds the glob tool: newline-separated absolute paths, newest
// mtime first (§6). .gitignore honoring is approximated by skipping
// .git directories and any path matched by a root .gitignore's plain
// filename entries; a full ignore-file parser is tool-body plumbing
// outside the core's scope.
func NewGlob() *tools.Def {
	return &tools.Def{
		Name:        "glob",
		Description: "Find files matching a glob pattern, newest first.",
		ArgsType:    GlobArgs{},
		Handler: func(_ context.Context, _ *tools.Context, args map[string]any) (string, error) {
			var a GlobArgs
			decodeInto(args, &a)
			return globImpl(a)
		},
	}
}

func globImpl(a GlobArgs) (string, error) {
	root := a.Path
	if root == "" {
		root = "."
	}

	ignored := loadGitignore(root)

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if ignored[d.Name()] || ignored[rel] {
			return nil
		}
		ok, _ := filepath.Match(a.Pattern, d.Name())
		if !ok {
			ok, _ = filepath.Match(a.Pattern, rel)
		}
		if ok {
			abs, _ := filepath.Abs(path)
			matches = append(matches, abs)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("glob walk failed: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		infoI, errI := os.Stat(matches[i])
		infoJ, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return strings.Join(matches, "\n"), nil
}

func loadGitignore(root string) map[string]bool {
	ignored := map[string]bool{}
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return ignored
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ignored[strings.TrimSuffix(line, "/")] = true
	}
	return ignored
}
