package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// McpRepository discovers tools from an external MCP server (stdio
// transport) and adapts each into a Def that can be registered on a
// Registry, generalizing the teacher's mcptoolset.Toolset to this
// package's simpler Def/Registry shape. Connection is established
// eagerly by Connect; Close releases the subprocess.
type McpRepository struct {
	client *client.Client
	filter map[string]bool
}

// McpConfig configures one stdio MCP server connection.
type McpConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string // when non-empty, only these tool names are exposed
}

// NewMcpRepository starts the MCP server subprocess, completes the MCP
// initialize handshake, and returns a repository ready for Discover.
func NewMcpRepository(ctx context.Context, cfg McpConfig) (*McpRepository, error) {
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("tools: starting MCP server %q: %w", cfg.Command, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("tools: starting MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agency", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("tools: initializing MCP session: %w", err)
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &McpRepository{client: mcpClient, filter: filterSet}, nil
}

// Discover lists the server's tools and adapts each into a Def whose
// Handler calls back into the MCP server. Each Def's Schema is set
// verbatim from the server's own JSON Schema document (ArgsType is left
// nil — these arguments have no corresponding Go struct to reflect).
func (r *McpRepository) Discover(ctx context.Context) ([]*Def, error) {
	resp, err := r.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools: listing MCP tools: %w", err)
	}

	var defs []*Def
	for _, t := range resp.Tools {
		if r.filter != nil && !r.filter[t.Name] {
			continue
		}
		name := t.Name
		defs = append(defs, &Def{
			Name:        name,
			Description: t.Description,
			Schema:      schemaToMap(t.InputSchema),
			Handler: func(ctx context.Context, _ *Context, args map[string]any) (string, error) {
				return r.call(ctx, name, args)
			},
		})
	}
	return defs, nil
}

func (r *McpRepository) call(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := r.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	if resp.IsError {
		for _, c := range resp.Content {
			if text, ok := c.(mcp.TextContent); ok {
				return "", fmt.Errorf("%s", text.Text)
			}
		}
		return "", fmt.Errorf("MCP tool %q returned an unspecified error", name)
	}

	var out string
	for _, c := range resp.Content {
		if text, ok := c.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += text.Text
		}
	}
	return out, nil
}

// Close releases the MCP subprocess.
func (r *McpRepository) Close() error { return r.client.Close() }

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// schemaToMap round-trips the server's typed input schema through JSON
// to get a clean map, the same technique the teacher's mcptoolset uses
// to avoid depending on mcp-go's exact struct shape.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}
