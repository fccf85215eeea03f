package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/agency/tools"
)

type notebookCell struct {
	ID       string          `json:"id,omitempty"`
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	Outputs  json.RawMessage `json:"outputs,omitempty"`
}

type notebookDoc struct {
	Cells    []notebookCell  `json:"cells"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	NbFormat int             `json:"nbformat"`
}

func requireNotebookPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("notebook_path must be absolute: %s", path)
	}
	if filepath.Ext(path) != ".ipynb" {
		return fmt.Errorf("notebook_path must have a .ipynb extension: %s", path)
	}
	return nil
}

func sourceText(raw json.RawMessage) string {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var single string
	_ = json.Unmarshal(raw, &single)
	return single
}

type NotebookReadArgs struct {
	NotebookPath string `json:"notebook_path" jsonschema:"required,description=Absolute path to a .ipynb file"`
	CellID       string `json:"cell_id,omitempty" jsonschema:"description=Read a single cell by id instead of the whole notebook"`
}

// NewNotebookRead builds notebook_read: JSON notebook manipulation with
// absolute-path and .ipynb extension requirements (§6).
func NewNotebookRead() *tools.Def {
	return &tools.Def{
		Name:        "notebook_read",
		Description: "Read a Jupyter notebook's cells.",
		ArgsType:    NotebookReadArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a NotebookReadArgs
			decodeInto(args, &a)
			return notebookReadImpl(tc, a)
		},
	}
}

func notebookReadImpl(tc *tools.Context, a NotebookReadArgs) (string, error) {
	if err := requireNotebookPath(a.NotebookPath); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(a.NotebookPath)
	if err != nil {
		return "", fmt.Errorf("failed to read notebook: %w", err)
	}
	var doc notebookDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse notebook: %w", err)
	}
	tc.MarkFileRead(a.NotebookPath)

	var out strings.Builder
	for i, cell := range doc.Cells {
		if a.CellID != "" && cell.ID != a.CellID {
			continue
		}
		fmt.Fprintf(&out, "--- cell %d [%s] id=%s ---\n%s\n", i, cell.CellType, cell.ID, sourceText(cell.Source))
	}
	return out.String(), nil
}

type NotebookEditArgs struct {
	NotebookPath string `json:"notebook_path" jsonschema:"required,description=Absolute path to a .ipynb file"`
	CellID       string `json:"cell_id,omitempty" jsonschema:"description=Target cell id; omit for insert at the start"`
	NewSource    string `json:"new_source" jsonschema:"required,description=Replacement or inserted cell source"`
	CellType     string `json:"cell_type,omitempty" jsonschema:"description=code or markdown,default=code"`
	EditMode     string `json:"edit_mode,omitempty" jsonschema:"description=replace, insert, or delete,default=replace"`
}

// NewNotebookEdit builds notebook_edit with the same path requirements as
// notebook_read; requires the target notebook to have been read first,
// following the read-before-write invariant's spirit for structured files.
func NewNotebookEdit() *tools.Def {
	return &tools.Def{
		Name:        "notebook_edit",
		Description: "Replace, insert, or delete a cell in a Jupyter notebook.",
		ArgsType:    NotebookEditArgs{},
		Handler: func(_ context.Context, tc *tools.Context, args map[string]any) (string, error) {
			var a NotebookEditArgs
			decodeInto(args, &a)
			return notebookEditImpl(tc, a)
		},
	}
}

func notebookEditImpl(tc *tools.Context, a NotebookEditArgs) (string, error) {
	if err := requireNotebookPath(a.NotebookPath); err != nil {
		return "", err
	}
	if !tc.WasFileRead(a.NotebookPath) {
		return "", fmt.Errorf("notebook must be read before editing: %s", a.NotebookPath)
	}

	raw, err := os.ReadFile(a.NotebookPath)
	if err != nil {
		return "", fmt.Errorf("failed to read notebook: %w", err)
	}
	var doc notebookDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse notebook: %w", err)
	}

	cellType := a.CellType
	if cellType == "" {
		cellType = "code"
	}
	editMode := a.EditMode
	if editMode == "" {
		editMode = "replace"
	}

	sourceJSON, _ := json.Marshal(a.NewSource)

	switch editMode {
	case "replace":
		found := false
		for i, c := range doc.Cells {
			if c.ID == a.CellID {
				doc.Cells[i].Source = sourceJSON
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("cell %q not found", a.CellID)
		}
	case "insert":
		newCell := notebookCell{CellType: cellType, Source: sourceJSON}
		insertAt := 0
		for i, c := range doc.Cells {
			if c.ID == a.CellID {
				insertAt = i + 1
				break
			}
		}
		doc.Cells = append(doc.Cells[:insertAt], append([]notebookCell{newCell}, doc.Cells[insertAt:]...)...)
	case "delete":
		out := doc.Cells[:0]
		for _, c := range doc.Cells {
			if c.ID != a.CellID {
				out = append(out, c)
			}
		}
		doc.Cells = out
	default:
		return "", fmt.Errorf("unknown edit_mode: %s", editMode)
	}

	updated, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize notebook: %w", err)
	}
	if err := os.WriteFile(a.NotebookPath, updated, 0644); err != nil {
		return "", fmt.Errorf("failed to write notebook: %w", err)
	}

	return fmt.Sprintf("Notebook %s updated (%s)", a.NotebookPath, editMode), nil
}
