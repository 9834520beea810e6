// Package httpapi exposes the graph service over HTTP: graph creation and
// runs, run state and events, diagrams, schedules and a live event stream.
package httpapi

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rendis/graphflow/internal/engine"
	"github.com/rendis/graphflow/internal/scheduler"
)

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Service   *engine.Service
	Scheduler *scheduler.Scheduler // optional; schedule routes answer 503 without it
	Logger    *slog.Logger

	// DiagramBinDir is searched for a mermaid-ascii binary used by the ascii
	// diagram format. The built-in renderer is used when it is absent.
	DiagramBinDir string
	Version       string
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)

	// Graphs.
	mux.HandleFunc("POST /graph/create", s.handleCreateGraph)
	mux.HandleFunc("GET /graphs", s.handleListGraphs)
	mux.HandleFunc("GET /graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("GET /graphs/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("GET /tools", s.handleListTools)

	// Runs.
	mux.HandleFunc("POST /graph/run", s.handleRun)
	mux.HandleFunc("GET /graph/state/{run_id}", s.handleRunState)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)

	// Schedules.
	mux.HandleFunc("POST /schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("DELETE /schedules/{id}", s.handleDeleteSchedule)

	// SSE streams.
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return s.logRequests(mux)
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
