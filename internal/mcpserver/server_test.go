package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/records"
	"github.com/starford/daylens/internal/testutil"
)

func testServer(t *testing.T) (*Server, *records.Repository, models.User) {
	t.Helper()
	store, dir := testutil.TestEnv(t)
	user, err := dir.CreateUser(context.Background(), "mcp@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	repo := records.NewRepository(store, "test-app", time.UTC, testutil.Logger())
	return New(repo, user), repo, user
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_day_logs":
		result, err = srv.listDayLogs(ctx, req)
	case "get_day_log":
		result, err = srv.getDayLog(ctx, req)
	case "save_day_log":
		result, err = srv.saveDayLog(ctx, req)
	case "delete_day_log":
		result, err = srv.deleteDayLog(ctx, req)
	case "get_day_log_format":
		result, err = srv.getDayLogFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func saveLog(t *testing.T, srv *Server, fields map[string]string, id string) models.DayLog {
	t.Helper()
	raw, _ := json.Marshal(fields)
	args := map[string]interface{}{"fields": string(raw)}
	if id != "" {
		args["id"] = id
	}
	r := callTool(t, srv, "save_day_log", args)
	if r.IsError {
		t.Fatalf("save failed: %s", resultText(r))
	}
	var log models.DayLog
	if err := json.Unmarshal([]byte(resultText(r)), &log); err != nil {
		t.Fatalf("decode saved log: %v", err)
	}
	return log
}

func TestSaveAndGetDayLog(t *testing.T) {
	srv, _, user := testServer(t)

	saved := saveLog(t, srv, map[string]string{
		"date":                  "2024-01-02",
		"create[0].description": "garden plan",
		"create[1].description": "",
		"meditate.duration":     "15",
		"owner":                 "someone-else",
	}, "")
	if saved.ID == "" {
		t.Fatal("saved log has no id")
	}
	if saved.UserID != user.UID {
		t.Errorf("owner = %q, want %q", saved.UserID, user.UID)
	}
	if len(saved.Create) != 1 {
		t.Errorf("create entries = %d, want 1 (blank dropped)", len(saved.Create))
	}

	r := callTool(t, srv, "get_day_log", map[string]interface{}{"id": saved.ID})
	if r.IsError {
		t.Fatalf("get failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "garden plan") {
		t.Errorf("get result = %q", resultText(r))
	}
}

func TestSaveWithIDUpdatesInPlace(t *testing.T) {
	srv, repo, user := testServer(t)

	first := saveLog(t, srv, map[string]string{"date": "2024-01-02", "notes": "draft"}, "")
	second := saveLog(t, srv, map[string]string{"date": "2024-01-02", "notes": "final"}, first.ID)

	if second.ID != first.ID {
		t.Errorf("update changed id: %q -> %q", first.ID, second.ID)
	}
	logs, err := repo.List(context.Background(), &user)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Notes != "final" {
		t.Fatalf("logs = %+v", logs)
	}
	if !logs[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", first.CreatedAt, logs[0].CreatedAt)
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "save_day_log", map[string]interface{}{"fields": "not json"})
	if !r.IsError {
		t.Error("expected error for malformed fields")
	}

	r = callTool(t, srv, "save_day_log", map[string]interface{}{"fields": `{"date":"yesterday"}`})
	if !r.IsError || resultText(r) != records.MsgInvalidDate {
		t.Errorf("result = %q, want %q", resultText(r), records.MsgInvalidDate)
	}

	r = callTool(t, srv, "save_day_log", map[string]interface{}{"fields": `{"date":"2024-01-02"}`, "id": "missing"})
	if !r.IsError || resultText(r) != records.MsgNotFound {
		t.Errorf("result = %q, want %q", resultText(r), records.MsgNotFound)
	}
}

func TestListDayLogsByWeek(t *testing.T) {
	srv, _, _ := testServer(t)
	saveLog(t, srv, map[string]string{"date": "2024-01-01"}, "") // Monday
	saveLog(t, srv, map[string]string{"date": "2024-01-06"}, "") // Saturday
	saveLog(t, srv, map[string]string{"date": "2024-01-07"}, "") // next Sunday

	var all []models.DayLog
	r := callTool(t, srv, "list_day_logs", map[string]interface{}{})
	if err := json.Unmarshal([]byte(resultText(r)), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d logs, want 3", len(all))
	}
	if !all[0].Date.After(all[2].Date) {
		t.Error("logs not newest first")
	}

	var week []models.DayLog
	r = callTool(t, srv, "list_day_logs", map[string]interface{}{"week": "2024-01-03"})
	if err := json.Unmarshal([]byte(resultText(r)), &week); err != nil {
		t.Fatal(err)
	}
	if len(week) != 2 {
		t.Errorf("week = %d logs, want 2", len(week))
	}

	r = callTool(t, srv, "list_day_logs", map[string]interface{}{"week": "soon"})
	if !r.IsError {
		t.Error("expected error for bad week date")
	}
}

func TestDeleteDayLog(t *testing.T) {
	srv, _, _ := testServer(t)
	saved := saveLog(t, srv, map[string]string{"date": "2024-01-02"}, "")

	r := callTool(t, srv, "delete_day_log", map[string]interface{}{"id": saved.ID})
	if r.IsError {
		t.Fatalf("delete failed: %s", resultText(r))
	}
	r = callTool(t, srv, "get_day_log", map[string]interface{}{"id": saved.ID})
	if !r.IsError {
		t.Error("log still readable after delete")
	}
	r = callTool(t, srv, "delete_day_log", map[string]interface{}{"id": saved.ID})
	if !r.IsError {
		t.Error("expected error deleting a missing log")
	}
}

func TestGuestCannotUseTools(t *testing.T) {
	store, _ := testutil.TestEnv(t)
	repo := records.NewRepository(store, "test-app", time.UTC, testutil.Logger())
	srv := New(repo, models.User{UID: "anon", Anonymous: true})

	r := callTool(t, srv, "list_day_logs", map[string]interface{}{})
	if !r.IsError {
		t.Error("guest listed logs")
	}
}

func TestFormatTool(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_day_log_format", nil)
	if !strings.Contains(resultText(r), "meditate.duration") {
		t.Error("format contract missing field names")
	}
	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
}
