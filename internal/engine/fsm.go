package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/pkg/schema"
)

// StatusNew is the implicit status of a run before it starts.
const StatusNew schema.RunStatus = "new"

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu     sync.Mutex
	events *emitter
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that records transition events in appender and
// publishes them on hub. Both may be nil.
func NewRunFSM(appender EventAppender, hub streaming.EventHub, logger *slog.Logger) *RunFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunFSM{
		events: &emitter{log: appender, hub: hub, logger: logger},
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a run state transition, runs its hooks and emits the
// matching event with payload attached.
// The caller (Executor) owns the RunResult and persists it.
func (f *RunFSM) Transition(ctx context.Context, runID, graphID string, from, to schema.RunStatus, payload any) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	f.mu.Lock()
	before := append([]TransitionHook(nil), f.before[key]...)
	after := append([]TransitionHook(nil), f.after[key]...)
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := runEventType(to); eventType != "" {
		err := f.events.emit(ctx, runEvent{
			runID:   runID,
			graphID: graphID,
			typ:     eventType,
			payload: payload,
		})
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusStoppedMaxLoops:
		return schema.EventRunStopped
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	StatusNew: {schema.RunStatusRunning},
	schema.RunStatusRunning: {
		schema.RunStatusCompleted,
		schema.RunStatusStoppedMaxLoops,
		schema.RunStatusFailed,
		schema.RunStatusCancelled,
	},
	schema.RunStatusCompleted:       {},
	schema.RunStatusStoppedMaxLoops: {},
	schema.RunStatusFailed:          {},
	schema.RunStatusCancelled:       {},
}
