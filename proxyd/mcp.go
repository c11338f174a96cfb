package proxyd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/visualctx/vci/formatter"
	"github.com/visualctx/vci/inspect"
)

// RegisterMCPTools exposes the tool surface over MCP so a coding agent can
// pull context and manage snapshots without going through the JSON API.
//
// Arguments arrive as json.RawMessage in req.Params.Arguments. Tool errors
// go through result.SetError; a non-nil handler error is a protocol error.
func (s *Server) RegisterMCPTools(srv *mcp.Server) {
	srv.AddTool(&mcp.Tool{
		Name:        "export_context",
		Description: "Write an inspection payload to the project's .vci directory and trigger the agent.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"payload": {"type": "object", "description": "Inspection export payload"}
			},
			"required": ["payload"]
		}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.exporter == nil {
			return toolError(fmt.Errorf("export directory not configured"))
		}
		var args struct {
			Payload inspect.Payload `json:"payload"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		res, err := s.exporter.Export(ctx, args.Payload)
		if err != nil {
			return toolError(err)
		}
		return toolJSON(map[string]string{"path": res.Path, "historyPath": res.HistoryPath})
	})

	srv.AddTool(&mcp.Tool{
		Name:        "format_context",
		Description: "Render an inspection payload as a token-budgeted prompt.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"payload": {"type": "object", "description": "Inspection export payload"},
				"token_budget": {"type": "integer", "description": "Approximate token budget for the prompt"}
			},
			"required": ["payload"]
		}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Payload     inspect.Payload `json:"payload"`
			TokenBudget int             `json:"token_budget"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		var opts []formatter.Option
		if args.TokenBudget > 0 {
			opts = append(opts, formatter.WithTokenBudget(args.TokenBudget))
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatter.Format(args.Payload, opts...)}},
		}, nil
	})

	srv.AddTool(&mcp.Tool{
		Name:        "agent_status",
		Description: "Read the sanitized status of the current agent run.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.status == nil {
			return toolJSON(map[string]any{"status": "unavailable"})
		}
		return toolJSON(s.status.View())
	})

	srv.AddTool(&mcp.Tool{
		Name:        "list_snapshots",
		Description: "List agent run snapshots, newest first.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.snapshots == nil {
			return toolError(fmt.Errorf("snapshots not configured"))
		}
		return toolJSON(s.snapshots.List())
	})

	srv.AddTool(&mcp.Tool{
		Name:        "restore_snapshot",
		Description: "Restore the project files captured by one snapshot run.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"run_id": {"type": "string", "description": "Snapshot run id"}
			},
			"required": ["run_id"]
		}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.snapshots == nil {
			return toolError(fmt.Errorf("snapshots not configured"))
		}
		var args struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		restored := s.snapshots.Restore(args.RunID)
		if restored == nil {
			return toolError(fmt.Errorf("snapshot %s missing or pruned", args.RunID))
		}
		return toolJSON(map[string]any{"restored": restored})
	})
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}
