package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/graphflow/internal/diagram"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/pkg/schema"
)

// handleCreate validates and registers a graph definition.
func (s *GraphServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Marshal then unmarshal the definition to get a proper GraphDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.GraphDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	id, err := s.service.CreateGraph(ctx, def)
	if err != nil {
		return toolError("graph rejected", err), nil
	}
	return marshalResult(map[string]any{"graph_id": id})
}

// handleRun runs a graph, synchronously by default.
func (s *GraphServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	initial := mcp.ParseStringMap(req, "initial_state", nil)
	bindings := req.GetStringSlice("tools", nil)

	if req.GetBool("async", false) {
		// Map the session first so even an instant outcome is pushed back.
		runID := s.service.NewRunID()
		s.captureSession(ctx, runID)
		if startErr := s.service.StartWithID(ctx, runID, graphID, initial, bindings); startErr != nil {
			s.sessions.Forget(runID)
			return toolError("run could not start", startErr), nil
		}
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": schema.RunStatusRunning,
		})
	}

	res, runErr := s.service.Run(ctx, graphID, initial, bindings)
	if runErr != nil {
		return toolError("run could not start", runErr), nil
	}
	return marshalResult(res)
}

// handleState returns the stored result of a run.
func (s *GraphServer) handleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	res, stateErr := s.service.GetRunState(ctx, runID)
	if stateErr != nil {
		return toolError("state query failed", stateErr), nil
	}
	return marshalResult(res)
}

// handleCancel stops a background run.
func (s *GraphServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if cancelErr := s.service.Cancel(ctx, runID); cancelErr != nil {
		return toolError("cancel failed", cancelErr), nil
	}
	return marshalResult(map[string]any{"ok": true, "run_id": runID})
}

// handleList lists graphs, runs, nodes, tools or events based on filters.
func (s *GraphServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource := req.GetString("resource", "graphs")
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "graphs":
		return marshalResult(map[string]any{"graphs": s.service.ListGraphs(ctx)})
	case "nodes":
		return marshalResult(map[string]any{"nodes": s.service.ListNodes(ctx)})
	case "tools":
		return marshalResult(map[string]any{"tools": s.service.ListTools(ctx)})
	case "runs":
		return s.listRuns(ctx, filter)
	case "events":
		return s.listEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- List helpers ---

func (s *GraphServer) listRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if graphID, ok := filter["graph_id"].(string); ok {
		rf.GraphID = graphID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}

	runs, err := s.service.ListRuns(ctx, rf)
	if err != nil {
		return toolError("query failed", err), nil
	}
	if runs == nil {
		runs = []*schema.RunResult{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *GraphServer) listEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	since := int64(extractInt(filter, "since", 0))

	events, err := s.service.GetEvents(ctx, runID, since)
	if err != nil {
		return toolError("query failed", err), nil
	}
	if events == nil {
		events = []*store.Event{}
	}
	return marshalResult(map[string]any{"events": events})
}

// handleDiagram generates a graph diagram in the requested format.
func (s *GraphServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	format := req.GetString("format", "mermaid")
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	g, gErr := s.service.GetGraph(ctx, graphID)
	if gErr != nil {
		return toolError("graph lookup failed", gErr), nil
	}
	var run *schema.RunResult
	if runID := req.GetString("run_id", ""); runID != "" {
		if run, err = s.service.GetRunState(ctx, runID); err != nil {
			return toolError("run lookup failed", err), nil
		}
	}

	model, buildErr := diagram.Build(g, run)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCIIAuto(ctx, model, s.diagramBinDir)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		encoded := base64.StdEncoding.EncodeToString(png)
		return mcp.NewToolResultImage(model.Title, encoded, "image/png"), nil
	default:
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
}

// --- Run notifications ---

// forwardRunEvents pushes the terminal event of every async run started over
// MCP to its session until ctx is done.
func (s *GraphServer) forwardRunEvents(ctx context.Context) {
	ch, unsubscribe, err := s.service.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{
			schema.EventRunCompleted,
			schema.EventRunStopped,
			schema.EventRunFailed,
			schema.EventRunCancelled,
		},
	})
	if err != nil {
		s.logger.Error("subscribe to run events", "error", err)
		return
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.notifyRun(ctx, ev)
		}
	}
}

func (s *GraphServer) notifyRun(ctx context.Context, ev streaming.StreamEvent) {
	if _, ok := s.sessions.SessionFor(ev.RunID); !ok {
		return
	}
	payload := map[string]any{
		"run_id":     ev.RunID,
		"graph_id":   ev.GraphID,
		"event_type": ev.EventType,
	}
	if ev.Payload != nil {
		payload["detail"] = ev.Payload
	}
	if err := s.notifier.Notify(ctx, ev.RunID, payload); err != nil {
		s.logger.Warn("run notification failed", "run_id", ev.RunID, "error", err)
	}
}

// captureSession maps the run ID to the current MCP session for notifications.
func (s *GraphServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// --- Internal helpers ---

// toolError renders err as a tool error, keeping the code of coded errors.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var se *schema.Error
	if errors.As(err, &se) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, se.Code, se.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
