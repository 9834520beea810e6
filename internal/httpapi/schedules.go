package httpapi

import (
	"net/http"

	"github.com/rendis/graphflow/internal/scheduler"
	"github.com/rendis/graphflow/internal/store"
)

// handleCreateSchedule registers a cron schedule for an existing graph.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	var spec scheduler.JobSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if spec.GraphID != "" {
		if _, err := s.deps.Service.GetGraph(ctx, spec.GraphID); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	job, err := s.deps.Scheduler.AddJob(ctx, spec)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	jobs, err := s.deps.Scheduler.ListJobs(r.Context(), store.ScheduledJobFilter{
		GraphID: r.URL.Query().Get("graph_id"),
		Limit:   queryInt(r, "limit", 0),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	if err := s.deps.Scheduler.RemoveJob(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireScheduler(w http.ResponseWriter) bool {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return false
	}
	return true
}
