package httpapi

import (
	"net/http"

	"github.com/rendis/graphflow/internal/diagram"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/pkg/schema"
)

// handleIndex reports the service version and a short inventory.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := s.deps.Service
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "graphflow",
		"version": s.deps.Version,
		"graphs":  len(svc.ListGraphs(ctx)),
		"nodes":   len(svc.ListNodes(ctx)),
		"tools":   len(svc.ListTools(ctx)),
		"pool":    svc.PoolMetrics(),
	})
}

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var def schema.GraphDefinition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Service.CreateGraph(r.Context(), def)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"graph_id": id})
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"graphs": s.deps.Service.ListGraphs(r.Context())})
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Service.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": s.deps.Service.ListNodes(r.Context())})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.deps.Service.ListTools(r.Context())})
}

// handleDiagram renders a graph, optionally overlaid with one of its runs.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g, err := s.deps.Service.GetGraph(ctx, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var run *schema.RunResult
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		if run, err = s.deps.Service.GetRunState(ctx, runID); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	model, err := diagram.Build(g, run)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		writeText(w, diagram.RenderMermaid(model))
	case "ascii":
		writeText(w, diagram.RenderASCIIAuto(ctx, model, s.deps.DiagramBinDir))
	case "png":
		img, err := diagram.RenderImage(ctx, model)
		if err != nil {
			s.deps.Logger.ErrorContext(ctx, "render diagram image", "graph_id", g.ID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, "format must be one of mermaid, ascii, png")
	}
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// runRequest is the body of POST /graph/run.
type runRequest struct {
	GraphID      string         `json:"graph_id"`
	InitialState map[string]any `json:"initial_state"`
	Tools        []string       `json:"tools"`
	Async        bool           `json:"async"`
}

// handleRun runs a graph to completion, or starts it in the background when
// async is set.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GraphID == "" {
		writeServiceError(w, schema.NewError(schema.ErrCodeValidation, "graph_id is required").
			WithDetails(map[string]any{"field": "graph_id"}))
		return
	}

	ctx := r.Context()
	if req.Async {
		runID, err := s.deps.Service.Start(ctx, req.GraphID, req.InitialState, req.Tools)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID,
			"status": string(schema.RunStatusRunning),
		})
		return
	}

	res, err := s.deps.Service.Run(ctx, req.GraphID, req.InitialState, req.Tools)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Service.GetRunState(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		GraphID: q.Get("graph_id"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := q.Get("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}

	runs, err := s.deps.Service.ListRuns(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []*schema.RunResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Service.GetEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := s.deps.Service.Cancel(r.Context(), runID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}
