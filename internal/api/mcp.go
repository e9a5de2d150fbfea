package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/storage"
	"github.com/kalambet/incidentq/internal/submission"
	"github.com/kalambet/incidentq/internal/syncer"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Form         *form.Schema
	Submitter    Submitter
	Syncer       Syncer
	Pending      PendingRenderer
	Connectivity Connectivity
	Board        *StatusBoard
	Version      string
}

// NewMCPServer creates an MCP server with the queue tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Board == nil {
		deps.Board = NewStatusBoard(0)
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"incidentq",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("incidentq queues incident reports locally and delivers them to the reporting webhook when online."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_pending",
			mcp.WithDescription("List incident reports that are saved locally and not yet delivered."),
		),
		mcpListPending(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Deliver queued reports now, oldest first. Stops at the first failure."),
		),
		mcpSyncNow(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_report",
			mcp.WithDescription("Submit an incident report. It is sent immediately when online and saved for later otherwise."),
			mcp.WithString("fields", mcp.Description(`JSON object mapping form labels to values, e.g. {"First Name":"Ana","Staff Number":4821}`), mcp.Required()),
		),
		mcpSubmitReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"queue://status",
			"Queue Status",
			mcp.WithResourceDescription("Connectivity, sync state, last run and recent status messages as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpListPending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := deps.Pending.Render(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read pending reports: %v", err)), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal pending reports: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSyncNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Syncer.Run(context.WithoutCancel(ctx), syncer.TriggerManual)
		if errors.Is(err, syncer.ErrRunInProgress) {
			return mcpError("a sync is already running"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("sync failed: %v", err)), nil
		}

		msg := rep.Message
		switch rep.Result {
		case syncer.ResultEmpty:
			msg = "No pending reports."
		case syncer.ResultComplete:
			msg = fmt.Sprintf("%s Delivered %d report(s).", rep.Message, rep.Delivered)
		}
		if rep.Halted() {
			return mcpError(fmt.Sprintf("%s %d report(s) still pending.", msg, rep.Remaining)), nil
		}
		return mcpText(msg), nil
	}
}

func mcpSubmitReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("fields")
		if err != nil {
			return mcpError("fields is required"), nil
		}

		fields, err := decodeOrderedFields([]byte(raw))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid fields JSON: %v", err)), nil
		}
		fields = deps.Form.Normalize(fields)
		if err := deps.Form.Validate(fields); err != nil {
			return mcpError(err.Error()), nil
		}

		rec, err := deps.Submitter.Submit(context.WithoutCancel(ctx), submission.New(fields, nil))
		if errors.Is(err, storage.ErrStorageFault) {
			return mcpError(fmt.Sprintf("report could not be saved locally: %v", err)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}

		if rec.Delivered() {
			return mcpText("Report delivered."), nil
		}
		return mcpText(fmt.Sprintf("Report saved as #%d and will be sent when possible (%s).", rec.ID, rec.Reason)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		resp := StatusResponse{
			Online:      deps.Connectivity.Online(),
			State:       deps.Syncer.State(),
			Attachments: deps.Connectivity.Capability(),
			Board:       deps.Board.Snapshot(),
		}
		if rep, ok := deps.Syncer.LastReport(); ok {
			resp.LastRun = &rep
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// decodeOrderedFields reads a JSON object into fields, keeping key order.
func decodeOrderedFields(data []byte) ([]submission.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var fields []submission.Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		label, _ := tok.(string)
		var v submission.Value
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %q: %w", label, err)
		}
		fields = append(fields, submission.Field{Label: label, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
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
