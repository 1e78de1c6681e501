package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/specgap/internal/queue"
)

// NewMCPServer creates an MCP server exposing the audit service as tools,
// so agent hosts can submit documents and poll for results over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"specgap",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("specgap — multi-reviewer audit of paired business/technical documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_audit",
			mcp.WithDescription("Queue a document audit. Returns the queue entry and wait estimate; poll audit_status for the result."),
			mcp.WithString("session_id", mcp.Description("Caller session token (one live audit per session)"), mcp.Required()),
			mcp.WithString("document", mcp.Description("Extracted document text to audit"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("Business domain label, e.g. \"Software Engineering\"")),
		),
		mcpSubmitAudit(deps),
	)

	s.AddTool(
		mcp.NewTool("audit_status",
			mcp.WithDescription("Check a queued or running audit: position, stage, and the patch pack once done."),
			mcp.WithString("entry_id", mcp.Description("Queue entry id returned by submit_audit"), mcp.Required()),
		),
		mcpAuditStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Current queue length, processing flag, and daily quota state."),
		),
		mcpQueueStatus(deps),
	)

	return s
}

func mcpSubmitAudit(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		document, err := req.RequireString("document")
		if err != nil {
			return mcpError("document is required"), nil
		}
		domain := req.GetString("domain", "")

		entry, eta, err := deps.Service.Submit(sessionID, document, domain)
		if err != nil {
			var already *queue.AlreadyQueuedError
			if errors.As(err, &already) {
				return mcpJSON(SubmitResponse{Entry: already.Entry, ETA: eta, AlreadyQueued: true})
			}
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}

		return mcpJSON(SubmitResponse{Entry: entry, ETA: eta})
	}
}

func mcpAuditStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entryID, err := req.RequireString("entry_id")
		if err != nil {
			return mcpError("entry_id is required"), nil
		}

		st, ok := deps.Service.Status(entryID)
		if !ok {
			return mcpError(fmt.Sprintf("no audit with id %s", entryID)), nil
		}
		return mcpJSON(st)
	}
}

func mcpQueueStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		info := deps.Queue.Info()
		return mcpJSON(map[string]any{
			"queue_length":           info.QueueLength,
			"is_processing":          info.Processing,
			"estimated_wait_seconds": int(info.EstimatedWait.Seconds()),
			"daily_quota":            info.Quota,
		})
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
