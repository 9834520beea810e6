package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/pkg/schema"
)

// handleSSERun streams the live events of one run via Server-Sent Events.
// A run that already finished gets a single run_state event. The stream
// closes after the run's terminal event.
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	runID := r.PathValue("id")

	// Subscribe before reading the state so no terminal event slips between.
	ch, cancel, err := s.deps.Service.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "run_id", runID, "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	res, err := s.deps.Service.GetRunState(ctx, runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if res.Finished() {
		writeSSE(w, "run_state", res)
		flusher.Flush()
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if !writeSSE(w, event.EventType, event) {
				continue
			}
			flusher.Flush()
			if terminalEvent(event.EventType) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return true
}

func terminalEvent(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunStopped, schema.EventRunFailed, schema.EventRunCancelled:
		return true
	}
	return false
}
