// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes a DayLens account's day logs to LLM tools via stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/records"
	"github.com/starford/daylens/internal/view"
)

const formatURI = "daylens://day-log-format"

// Server wraps the MCP server with DayLens tools. Every tool acts as user.
type Server struct {
	mcp  *server.MCPServer
	repo *records.Repository
	user models.User
}

// New creates a new MCP server with all DayLens tools registered.
func New(repo *records.Repository, user models.User) *Server {
	s := &Server{repo: repo, user: user}

	s.mcp = server.NewMCPServer(
		"DayLens",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_day_logs",
		mcp.WithDescription("List day logs, newest first. Pass week to limit the result to the Sunday-based week containing that date."),
		mcp.WithString("week", mcp.Description("Optional date (YYYY-MM-DD) inside the week to list")),
	), s.listDayLogs)

	s.mcp.AddTool(mcp.NewTool("get_day_log",
		mcp.WithDescription("Read one day log by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Day log id")),
	), s.getDayLog)

	s.mcp.AddTool(mcp.NewTool("save_day_log",
		mcp.WithDescription("Create a day log, or replace an existing one when id is given. "+
			"fields MUST follow the day log format; read it first via the get_day_log_format "+
			"tool or the "+formatURI+" resource."),
		mcp.WithString("fields", mcp.Required(), mcp.Description("JSON object of form fields, e.g. {\"date\":\"2024-01-02\",\"create[0].description\":\"...\"}")),
		mcp.WithString("id", mcp.Description("Id of the log to update")),
	), s.saveDayLog)

	s.mcp.AddTool(mcp.NewTool("delete_day_log",
		mcp.WithDescription("Delete a day log by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Day log id")),
	), s.deleteDayLog)

	s.mcp.AddTool(mcp.NewTool("get_day_log_format",
		mcp.WithDescription("Returns the day log field format accepted by save_day_log."),
	), s.getDayLogFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Day Log Format",
			mcp.WithResourceDescription("Field names and rules for saving day logs."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func toolError(err error) *mcp.CallToolResult {
	if msg := apperr.MessageOf(err); msg != "" {
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listDayLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logs, err := s.repo.List(ctx, &s.user)
	if err != nil {
		return toolError(err), nil
	}
	if week := req.GetString("week", ""); week != "" {
		anchor, err := s.repo.ParseDate(week)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid week date: %s", week)), nil
		}
		logs = view.InWeek(logs, anchor, s.repo.Location())
	}
	return jsonResult(logs), nil
}

func (s *Server) getDayLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	log, err := s.repo.Get(ctx, &s.user, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(log), nil
}

func (s *Server) saveDayLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return mcp.NewToolResultError("fields must be a JSON object of strings"), nil
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	form := formcodec.Parse(values)

	var existing *models.DayLog
	if id := req.GetString("id", ""); id != "" {
		current, err := s.repo.Get(ctx, &s.user, id)
		if err != nil {
			return toolError(err), nil
		}
		existing = &current
	}

	saved, err := s.repo.Save(ctx, &s.user, form, existing)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(saved), nil
}

func (s *Server) deleteDayLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.repo.Get(ctx, &s.user, id); err != nil {
		return toolError(err), nil
	}
	if err := s.repo.Delete(ctx, &s.user, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) getDayLogFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DayLogFormat), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DayLogFormat,
		},
	}, nil
}
