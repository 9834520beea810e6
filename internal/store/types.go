package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/graphflow/pkg/schema"
)

// Event is a persisted run event. Sequence is monotonically increasing per run.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	GraphID   string          `json:"graph_id,omitempty"`
	Node      string          `json:"node,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob starts a run of GraphID each time CronExpression fires.
type ScheduledJob struct {
	ID             string         `json:"id"`
	GraphID        string         `json:"graph_id"`
	CronExpression string         `json:"cron_expression"`
	InitialState   map[string]any `json:"initial_state,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
	LastRunID      string         `json:"last_run_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	GraphID string            `json:"graph_id,omitempty"`
	Status  *schema.RunStatus `json:"status,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Offset  int               `json:"offset,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	GraphID string `json:"graph_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (j *ScheduledJob) clone() *ScheduledJob {
	out := *j
	out.InitialState = schema.CloneState(j.InitialState)
	out.Tools = append([]string(nil), j.Tools...)
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		out.LastRunAt = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		out.NextRunAt = &t
	}
	return &out
}

func (u ScheduledJobUpdate) apply(j *ScheduledJob) {
	if u.Enabled != nil {
		j.Enabled = *u.Enabled
	}
	if u.LastRunAt != nil {
		t := *u.LastRunAt
		j.LastRunAt = &t
	}
	if u.NextRunAt != nil {
		t := *u.NextRunAt
		j.NextRunAt = &t
	}
	if u.LastRunStatus != "" {
		j.LastRunStatus = u.LastRunStatus
	}
	if u.LastRunID != "" {
		j.LastRunID = u.LastRunID
	}
}
