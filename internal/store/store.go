package store

import (
	"context"

	"github.com/rendis/graphflow/pkg/schema"
)

// RunStore keeps run results keyed by run id.
type RunStore interface {
	// PutRun inserts or replaces the result for r.RunID. Implementations
	// keep their own deep copy.
	PutRun(ctx context.Context, r *schema.RunResult) error
	// GetRun returns a deep copy of the stored result, or NOT_FOUND.
	GetRun(ctx context.Context, runID string) (*schema.RunResult, error)
	// ListRuns returns results newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunResult, error)
}

// EventLog is the append-only record of run events.
type EventLog interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
}

// JobStore persists cron schedules.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	RunStore
	EventLog
	JobStore

	// Migrate prepares the backing schema. It is a no-op for memory stores.
	Migrate(ctx context.Context) error
	Close() error
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}
