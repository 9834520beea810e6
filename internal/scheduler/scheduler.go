// Package scheduler starts graph runs on cron schedules persisted in the
// job store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"

	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/pkg/schema"
)

// DefaultInterval is how often the store is polled for due jobs.
const DefaultInterval = 60 * time.Second

// Job statuses recorded after each trigger.
const (
	StatusStarted = "started"
	StatusError   = "error"
)

// Runner starts a background run. Satisfied by engine.Service.
type Runner interface {
	Start(ctx context.Context, graphID string, initial schema.State, bindings []string) (string, error)
}

// Options tunes a Scheduler. The zero value is usable.
type Options struct {
	Interval time.Duration
	Hub      streaming.EventHub // receives schedule_triggered events when set
}

// JobSpec describes a new schedule.
type JobSpec struct {
	ID             string         `json:"id,omitempty" yaml:"id,omitempty"`
	GraphID        string         `json:"graph_id" yaml:"graph_id"`
	CronExpression string         `json:"cron_expression" yaml:"cron"`
	InitialState   map[string]any `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
	Tools          []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Disabled       bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Scheduler polls the store for due scheduled jobs and starts their runs.
type Scheduler struct {
	jobs     store.JobStore
	runner   Runner
	hub      streaming.EventHub
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently triggering (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(jobs store.JobStore, runner Runner, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Scheduler{
		jobs:     jobs,
		runner:   runner,
		hub:      opts.Hub,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: opts.Interval,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// AddJob validates spec, computes its first run time and persists it.
func (s *Scheduler) AddJob(ctx context.Context, spec JobSpec) (*store.ScheduledJob, error) {
	if spec.GraphID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph_id is required").
			WithDetails(map[string]any{"field": "graph_id"})
	}
	now := s.now().UTC()
	next, err := s.CalculateNextRun(spec.CronExpression, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).
			WithDetails(map[string]any{"field": "cron_expression"}).
			WithCause(err)
	}

	id := spec.ID
	if id == "" {
		suffix, err := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 12)
		if err != nil {
			return nil, fmt.Errorf("generate schedule id: %w", err)
		}
		id = "s_" + suffix
	}

	job := &store.ScheduledJob{
		ID:             id,
		GraphID:        spec.GraphID,
		CronExpression: spec.CronExpression,
		InitialState:   spec.InitialState,
		Tools:          spec.Tools,
		Enabled:        !spec.Disabled,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.jobs.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "schedule added",
		slog.String("job_id", id),
		slog.String("graph_id", spec.GraphID),
		slog.String("cron", spec.CronExpression),
		slog.Time("next_run_at", next),
	)
	return job, nil
}

// SetEnabled pauses or resumes a job. Resuming recomputes the next run so a
// long pause does not trigger a backlog.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	job, err := s.jobs.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	update := store.ScheduledJobUpdate{Enabled: &enabled}
	if enabled && !job.Enabled {
		next, err := s.CalculateNextRun(job.CronExpression, s.now().UTC())
		if err != nil {
			return err
		}
		update.NextRunAt = &next
	}
	return s.jobs.UpdateScheduledJob(ctx, id, update)
}

// RemoveJob deletes a job.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	return s.jobs.DeleteScheduledJob(ctx, id)
}

// ListJobs returns persisted jobs matching filter.
func (s *Scheduler) ListJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	return s.jobs.ListScheduledJobs(ctx, filter)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick triggers every enabled job whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob starts a run for job and records the outcome and the next run time.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("triggering scheduled job",
		slog.String("job_id", job.ID),
		slog.String("graph_id", job.GraphID),
	)

	runID, err := s.runner.Start(ctx, job.GraphID, schema.CloneState(job.InitialState), job.Tools)
	status := StatusStarted
	if err != nil {
		status = StatusError
		s.logger.Error("scheduled job could not start",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.hub != nil {
		payload := map[string]any{"job_id": job.ID, "status": status}
		if err != nil {
			payload["error"] = err.Error()
		}
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			RunID:     runID,
			GraphID:   job.GraphID,
			EventType: schema.EventScheduleTriggered,
			Payload:   payload,
		})
	}

	nextRun, cerr := s.CalculateNextRun(job.CronExpression, now)
	if cerr != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, cerr)
	}
	return s.jobs.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
		LastRunID:     runID,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every enabled job whose next run passed while the
// process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
