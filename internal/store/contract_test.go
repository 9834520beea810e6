package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphflow/pkg/schema"
)

// storeFactory builds a fresh, migrated Store for one test.
type storeFactory func(t *testing.T) Store

func sampleRun(graphID string, status schema.RunStatus, started time.Time) *schema.RunResult {
	next := "b"
	r := &schema.RunResult{
		RunID:      uuid.NewString(),
		GraphID:    graphID,
		Status:     status,
		FinalState: schema.State{"value": 2.0, "tags": []any{"x"}},
		Trace: []schema.StepRecord{{
			Step:        0,
			Node:        "a",
			StateBefore: schema.State{"value": 1.0},
			StateAfter:  schema.State{"value": 2.0},
			NextNode:    &next,
			StartedAt:   started,
		}},
		StartedAt: started,
	}
	if status.Terminal() {
		done := started.Add(time.Second)
		r.CompletedAt = &done
	}
	return r
}

func runContract(t *testing.T, newStore storeFactory) {
	t.Run("PutGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := sampleRun("g_1", schema.RunStatusCompleted, time.Now().UTC())
		require.NoError(t, s.PutRun(ctx, r))

		got, err := s.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.Equal(t, r.RunID, got.RunID)
		assert.Equal(t, "g_1", got.GraphID)
		assert.Equal(t, schema.RunStatusCompleted, got.Status)
		assert.Equal(t, 2.0, got.FinalState["value"])
		require.Len(t, got.Trace, 1)
		assert.Equal(t, "b", *got.Trace[0].NextNode)
		assert.Equal(t, 1.0, got.Trace[0].StateBefore["value"])
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("PutRunReplacesStartedAt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		queued := time.Now().UTC().Add(-time.Minute)
		r := sampleRun("g_1", schema.RunStatusRunning, queued)
		require.NoError(t, s.PutRun(ctx, r))

		started := queued.Add(30 * time.Second)
		r.StartedAt = started
		require.NoError(t, s.PutRun(ctx, r))

		got, err := s.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.WithinDuration(t, started, got.StartedAt, time.Second)
	})

	t.Run("PutRunReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := sampleRun("g_1", schema.RunStatusRunning, time.Now().UTC())
		require.NoError(t, s.PutRun(ctx, r))

		r.Status = schema.RunStatusFailed
		r.Error = schema.NewError(schema.ErrCodeExecution, "boom").WithNode("a")
		require.NoError(t, s.PutRun(ctx, r))

		got, err := s.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, schema.ErrCodeExecution, got.Error.Code)
		assert.Equal(t, "a", got.Error.Node)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	})

	t.Run("PutRunRequiresID", func(t *testing.T) {
		s := newStore(t)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(s.PutRun(context.Background(), &schema.RunResult{})))
	})

	t.Run("StoredCopyIsIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := sampleRun("g_1", schema.RunStatusCompleted, time.Now().UTC())
		require.NoError(t, s.PutRun(ctx, r))
		r.FinalState["value"] = "mutated"

		got, err := s.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		got.FinalState["tags"].([]any)[0] = "changed"

		again, err := s.GetRun(ctx, r.RunID)
		require.NoError(t, err)
		assert.Equal(t, 2.0, again.FinalState["value"])
		assert.Equal(t, "x", again.FinalState["tags"].([]any)[0])
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		var ids []string
		for i := 0; i < 4; i++ {
			graph := "g_a"
			status := schema.RunStatusCompleted
			if i%2 == 1 {
				graph = "g_b"
				status = schema.RunStatusFailed
			}
			r := sampleRun(graph, status, base.Add(time.Duration(i)*time.Minute))
			ids = append(ids, r.RunID)
			require.NoError(t, s.PutRun(ctx, r))
		}

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].RunID, "newest first")

		byGraph, err := s.ListRuns(ctx, RunFilter{GraphID: "g_a"})
		require.NoError(t, err)
		assert.Len(t, byGraph, 2)

		failed := schema.RunStatusFailed
		byStatus, err := s.ListRuns(ctx, RunFilter{Status: &failed})
		require.NoError(t, err)
		assert.Len(t, byStatus, 2)

		page, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].RunID)
	})

	t.Run("Events", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendEvent(ctx, &Event{
				RunID:   "run-1",
				GraphID: "g_1",
				Node:    fmt.Sprintf("n%d", i),
				Type:    schema.EventStepCompleted,
				Payload: json.RawMessage(fmt.Sprintf(`{"step":%d}`, i)),
			}))
		}
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-2", Type: schema.EventRunStarted}))

		events, err := s.GetEvents(ctx, "run-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(1), events[0].Sequence)
		assert.Equal(t, int64(3), events[2].Sequence)
		assert.Equal(t, "n1", events[1].Node)
		assert.JSONEq(t, `{"step":1}`, string(events[1].Payload))

		tail, err := s.GetEvents(ctx, "run-1", 2)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, "n2", tail[0].Node)

		other, err := s.GetEvents(ctx, "run-2", 0)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, int64(1), other[0].Sequence)

		none, err := s.GetEvents(ctx, "nope", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ScheduledJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		next := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
		job := &ScheduledJob{
			ID:             "job-1",
			GraphID:        "code_review",
			CronExpression: "*/5 * * * *",
			InitialState:   map[string]any{"code": "def f(): pass"},
			Tools:          []string{"extract_functions"},
			Enabled:        true,
			NextRunAt:      &next,
		}
		require.NoError(t, s.CreateScheduledJob(ctx, job))
		assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(s.CreateScheduledJob(ctx, job)))

		got, err := s.GetScheduledJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "code_review", got.GraphID)
		assert.Equal(t, "def f(): pass", got.InitialState["code"])
		assert.Equal(t, []string{"extract_functions"}, got.Tools)
		assert.True(t, got.Enabled)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, next.Equal(*got.NextRunAt))

		ran := next.Add(time.Minute)
		disabled := false
		require.NoError(t, s.UpdateScheduledJob(ctx, "job-1", ScheduledJobUpdate{
			LastRunAt:     &ran,
			LastRunStatus: "completed",
			LastRunID:     "run-9",
			Enabled:       &disabled,
		}))
		got, err = s.GetScheduledJob(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, "completed", got.LastRunStatus)
		assert.Equal(t, "run-9", got.LastRunID)

		require.NoError(t, s.CreateScheduledJob(ctx, &ScheduledJob{ID: "job-2", GraphID: "g_x", CronExpression: "@hourly", Enabled: true}))

		enabled := true
		list, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "job-2", list[0].ID)

		byGraph, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{GraphID: "code_review"})
		require.NoError(t, err)
		assert.Len(t, byGraph, 1)

		require.NoError(t, s.DeleteScheduledJob(ctx, "job-1"))
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.DeleteScheduledJob(ctx, "job-1")))
		_, err = s.GetScheduledJob(ctx, "job-1")
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
		assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.UpdateScheduledJob(ctx, "job-1", ScheduledJobUpdate{LastRunStatus: "x"})))
	})
}
