package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_SubmitAudit(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpSubmitAudit(deps)

	req := makeCallToolRequest("submit_audit", map[string]interface{}{
		"session_id": "alice",
		"document":   "the contract text",
		"domain":     "Fintech",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp SubmitResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Entry.ID == "" {
		t.Error("entry id empty")
	}
	if resp.Entry.Position != 1 {
		t.Errorf("position = %d, want 1", resp.Entry.Position)
	}
}

func TestMCPTool_SubmitAudit_MissingArgs(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpSubmitAudit(deps)

	result, err := handler(context.Background(),
		makeCallToolRequest("submit_audit", map[string]interface{}{"session_id": "alice"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing document")
	}
}

func TestMCPTool_SubmitAudit_DuplicateSession(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpSubmitAudit(deps)

	args := map[string]interface{}{"session_id": "alice", "document": "doc"}
	first, _ := handler(context.Background(), makeCallToolRequest("submit_audit", args))
	if first.IsError {
		t.Fatalf("first submit failed: %s", toolText(t, first))
	}

	second, _ := handler(context.Background(), makeCallToolRequest("submit_audit", args))
	if second.IsError {
		t.Fatalf("duplicate submit returned a tool error: %s", toolText(t, second))
	}

	var resp SubmitResponse
	if err := json.Unmarshal([]byte(toolText(t, second)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.AlreadyQueued {
		t.Error("already_queued = false, want true")
	}
}

func TestMCPTool_AuditStatus(t *testing.T) {
	deps := newTestDeps(t)

	submit, _ := mcpSubmitAudit(deps)(context.Background(),
		makeCallToolRequest("submit_audit", map[string]interface{}{
			"session_id": "alice", "document": "doc",
		}))
	var submitted SubmitResponse
	if err := json.Unmarshal([]byte(toolText(t, submit)), &submitted); err != nil {
		t.Fatalf("failed to parse submit response: %v", err)
	}

	deps.Service.RunOnce(context.Background())

	handler := mcpAuditStatus(deps)
	result, err := handler(context.Background(),
		makeCallToolRequest("audit_status", map[string]interface{}{"entry_id": submitted.Entry.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var st map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if st["stage"] != "done" {
		t.Errorf("stage = %v, want done", st["stage"])
	}
	if _, ok := st["patch_pack"]; !ok {
		t.Error("finished status missing patch_pack")
	}
}

func TestMCPTool_AuditStatus_Unknown(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpAuditStatus(deps)

	result, _ := handler(context.Background(),
		makeCallToolRequest("audit_status", map[string]interface{}{"entry_id": "nope"}))
	if !result.IsError {
		t.Fatal("expected tool error for unknown entry")
	}
}

func TestMCPTool_QueueStatus(t *testing.T) {
	deps := newTestDeps(t)
	mcpSubmitAudit(deps)(context.Background(),
		makeCallToolRequest("submit_audit", map[string]interface{}{
			"session_id": "alice", "document": "doc",
		}))

	result, err := mcpQueueStatus(deps)(context.Background(),
		makeCallToolRequest("queue_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &info); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if info["queue_length"].(float64) != 1 {
		t.Errorf("queue_length = %v, want 1", info["queue_length"])
	}
	if _, ok := info["daily_quota"]; !ok {
		t.Error("daily_quota missing")
	}
}
