package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/graphflow/internal/graph"
	"github.com/rendis/graphflow/internal/logging"
	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// ServiceConfig holds configuration for the Service.
type ServiceConfig struct {
	MaxSteps int // per-run step cap, 0 = unlimited
	PoolSize int // concurrent background runs
}

// Service is the core facade: graph creation, synchronous and background
// runs, and run inspection. Transports (HTTP, MCP, CLI, scheduler) only talk
// to the Service.
type Service struct {
	builder *graph.Builder
	graphs  *graph.Registry
	nodes   *nodes.Registry
	tools   *tools.Registry
	store   store.Store
	hub     streaming.EventHub
	exec    *Executor
	pool    *WorkerPool
	logger  *slog.Logger

	newRunID func() string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService wires a Service. hub defaults to an in-memory hub.
func NewService(cfg ServiceConfig, nr *nodes.Registry, tr *tools.Registry, st store.Store, hub streaming.EventHub, logger *slog.Logger) (*Service, error) {
	if nr == nil || tr == nil || st == nil {
		return nil, errors.New("engine: node registry, tool registry and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = streaming.NewMemoryHub()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	builder, err := graph.NewBuilder(nr)
	if err != nil {
		return nil, err
	}
	return &Service{
		builder:  builder,
		graphs:   graph.NewRegistry(),
		nodes:    nr,
		tools:    tr,
		store:    st,
		hub:      hub,
		exec:     NewExecutor(ExecutorConfig{MaxSteps: cfg.MaxSteps}, st, hub, logger),
		pool:     NewWorkerPool(cfg.PoolSize, logger),
		logger:   logger,
		newRunID: uuid.NewString,
		running:  make(map[string]context.CancelFunc),
	}, nil
}

// Executor exposes the underlying executor, mainly for FSM hooks.
func (s *Service) Executor() *Executor {
	return s.exec
}

// CreateGraph validates def and publishes it. Construction errors are
// returned as-is and nothing is stored.
func (s *Service) CreateGraph(ctx context.Context, def schema.GraphDefinition) (string, error) {
	g, err := s.builder.Build(&def)
	if err != nil {
		return "", err
	}
	if err := s.graphs.Add(g); err != nil {
		return "", err
	}

	ctx = logging.WithGraphID(ctx, g.ID)
	logging.LogWith(ctx, s.logger).InfoContext(ctx, "graph created", "name", g.Name, "nodes", len(g.Nodes))
	if err := s.hub.Publish(ctx, streaming.StreamEvent{
		GraphID:   g.ID,
		EventType: schema.EventGraphCreated,
		Payload:   g.Summary(),
	}); err != nil {
		s.logger.WarnContext(ctx, "publish graph event", "error", err)
	}
	return g.ID, nil
}

// GetGraph returns a published graph or UNKNOWN_GRAPH.
func (s *Service) GetGraph(_ context.Context, graphID string) (*graph.Graph, error) {
	return s.graphs.Get(graphID)
}

// ListGraphs returns summaries of every published graph.
func (s *Service) ListGraphs(context.Context) []graph.Summary {
	return s.graphs.List()
}

// ListNodes returns the registered node capabilities.
func (s *Service) ListNodes(context.Context) []nodes.Info {
	return s.nodes.List()
}

// ListTools returns the registered tools.
func (s *Service) ListTools(context.Context) []tools.ToolInfo {
	return s.tools.List()
}

// prepare resolves everything a run needs before it starts. Failures here
// mean no run exists.
func (s *Service) prepare(graphID string, bindings []string) (*graph.Graph, tools.Set, error) {
	g, err := s.graphs.Get(graphID)
	if err != nil {
		return nil, nil, err
	}
	ts, err := s.tools.Bind(bindings)
	if err != nil {
		return nil, nil, err
	}
	return g, ts, nil
}

// Run executes graphID to completion and returns its result. UNKNOWN_GRAPH
// and UNKNOWN_CAPABILITY are returned before any run exists; execution
// failures come back inside the result. A non-nil error next to a result
// means the result could not be stored.
func (s *Service) Run(ctx context.Context, graphID string, initial schema.State, bindings []string) (*schema.RunResult, error) {
	g, ts, err := s.prepare(graphID, bindings)
	if err != nil {
		return nil, err
	}
	runID := s.newRunID()
	sig := s.track(runID)
	if err := s.putRunning(ctx, g, runID); err != nil {
		s.untrack(runID)
		return nil, err
	}
	return s.execute(ctx, sig, g, runID, initial, ts)
}

// Start begins a background run of graphID and returns its id immediately.
// The run is stored with status running before Start returns.
func (s *Service) Start(ctx context.Context, graphID string, initial schema.State, bindings []string) (string, error) {
	runID := s.NewRunID()
	if err := s.StartWithID(ctx, runID, graphID, initial, bindings); err != nil {
		return "", err
	}
	return runID, nil
}

// NewRunID returns a fresh run id for StartWithID.
func (s *Service) NewRunID() string {
	return s.newRunID()
}

// StartWithID is Start with a caller-chosen run id, so the caller can
// subscribe to or register the run before it executes. An id already in use
// is a CONFLICT.
func (s *Service) StartWithID(ctx context.Context, runID, graphID string, initial schema.State, bindings []string) error {
	g, ts, err := s.prepare(graphID, bindings)
	if err != nil {
		return err
	}
	if runID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	if _, err := s.store.GetRun(ctx, runID); err == nil {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", runID).
			WithDetails(map[string]any{"run_id": runID})
	} else if !schema.IsCode(err, schema.ErrCodeNotFound) {
		return schema.NewError(schema.ErrCodeStore, "look up run").WithCause(err)
	}

	sig, ok := s.trackNew(runID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", runID).
			WithDetails(map[string]any{"run_id": runID})
	}
	if err := s.putRunning(ctx, g, runID); err != nil {
		s.untrack(runID)
		return err
	}

	state := schema.CloneState(initial)
	err = s.pool.Submit(ctx, func(poolCtx context.Context) error {
		res, err := s.execute(poolCtx, sig, g, runID, state, ts)
		if err != nil {
			return err
		}
		if res.Status == schema.RunStatusFailed {
			return res.Error
		}
		return nil
	})
	if err != nil {
		s.untrack(runID)
		s.abandon(ctx, g, runID, err)
		return schema.NewError(schema.ErrCodeExecution, "run could not be scheduled").WithCause(err)
	}
	return nil
}

// Cancel asks a run of this process to stop at its next step boundary. A
// queued run is cancelled before its first step.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	cancel, ok := s.running[runID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	res, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	details := map[string]any{"run_id": runID, "status": string(res.Status)}
	if res.Finished() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already %s", runID, res.Status).
			WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "run %q is not active in this process", runID).
		WithDetails(details)
}

// track makes runID cancellable and returns the context Cancel fires.
func (s *Service) track(runID string) context.Context {
	sig, _ := s.trackNew(runID)
	return sig
}

// trackNew is track that refuses an id already tracked.
func (s *Service) trackNew(runID string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[runID]; ok {
		return nil, false
	}
	sig, cancel := context.WithCancel(context.Background())
	s.running[runID] = cancel
	return sig, true
}

func (s *Service) untrack(runID string) {
	s.mu.Lock()
	cancel, ok := s.running[runID]
	delete(s.running, runID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) execute(ctx, sig context.Context, g *graph.Graph, runID string, initial schema.State, ts tools.Set) (*schema.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	if sig.Err() != nil {
		cancel()
	}
	stop := context.AfterFunc(sig, cancel)
	defer func() {
		stop()
		s.untrack(runID)
		cancel()
	}()

	ctx = logging.WithIDs(ctx, runID, g.ID)
	res := s.exec.Execute(ctx, g, runID, initial, ts, RunOptions{
		OnStep: func(r *schema.RunResult) {
			if err := s.store.PutRun(ctx, r); err != nil {
				logging.LogWith(ctx, s.logger).WarnContext(ctx, "store run progress", "error", err)
			}
		},
	})

	// The run context may already be cancelled; the final write must land.
	if err := s.store.PutRun(context.WithoutCancel(ctx), res); err != nil {
		logging.LogWith(ctx, s.logger).ErrorContext(ctx, "store run result", "error", err)
		return res, schema.NewError(schema.ErrCodeStore, "store run result").WithCause(err)
	}
	return res, nil
}

func (s *Service) putRunning(ctx context.Context, g *graph.Graph, runID string) error {
	res := &schema.RunResult{
		RunID:       runID,
		GraphID:     g.ID,
		Status:      schema.RunStatusRunning,
		FinalState:  schema.State{},
		CurrentNode: g.StartNode,
		Trace:       []schema.StepRecord{},
		StartedAt:   s.exec.now().UTC(),
	}
	if err := s.store.PutRun(ctx, res); err != nil {
		return schema.NewError(schema.ErrCodeStore, "store new run").WithCause(err)
	}
	return nil
}

// abandon marks a stored run that never got a worker as cancelled.
func (s *Service) abandon(ctx context.Context, g *graph.Graph, runID string, cause error) {
	now := s.exec.now().UTC()
	res := &schema.RunResult{
		RunID:       runID,
		GraphID:     g.ID,
		Status:      schema.RunStatusCancelled,
		FinalState:  schema.State{},
		CurrentNode: g.StartNode,
		Trace:       []schema.StepRecord{},
		Error:       schema.NewError(schema.ErrCodeCancelled, "run was never scheduled").WithCause(cause),
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := s.store.PutRun(context.WithoutCancel(ctx), res); err != nil {
		s.logger.ErrorContext(ctx, "store abandoned run", "run_id", runID, "error", err)
	}
}

// RecoverInterrupted fails every stored run left running by a previous
// process. Call it once at startup, before any run starts, and only when no
// other process shares the store. It returns the number of runs recovered.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	status := schema.RunStatusRunning
	stale, err := s.store.ListRuns(ctx, store.RunFilter{Status: &status})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, res := range stale {
		s.mu.Lock()
		_, active := s.running[res.RunID]
		s.mu.Unlock()
		if active {
			continue
		}

		now := s.exec.now().UTC()
		res.Status = schema.RunStatusFailed
		res.CompletedAt = &now
		res.Error = schema.NewError(schema.ErrCodeExecution, "run interrupted by process exit").
			WithNode(res.CurrentNode).
			WithDetails(map[string]any{"reason": "interrupted"})
		if err := s.store.PutRun(ctx, res); err != nil {
			return n, err
		}
		payload := map[string]any{"steps": len(res.Trace), "error": res.Error}
		if err := s.exec.FSM().Transition(ctx, res.RunID, res.GraphID, schema.RunStatusRunning, schema.RunStatusFailed, payload); err != nil {
			s.logger.WarnContext(ctx, "record interrupted run", "run_id", res.RunID, "error", err)
		}
		n++
	}
	return n, nil
}

// GetRunState returns the stored result of runID, or NOT_FOUND.
func (s *Service) GetRunState(ctx context.Context, runID string) (*schema.RunResult, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns stored results, newest first.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunResult, error) {
	return s.store.ListRuns(ctx, filter)
}

// GetEvents returns the persisted events of runID with a sequence above since.
func (s *Service) GetEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(ctx, runID, since)
}

// Subscribe streams live events matching filter until cancel is called.
func (s *Service) Subscribe(ctx context.Context, filter streaming.EventFilter) (<-chan streaming.StreamEvent, func(), error) {
	return s.hub.Subscribe(ctx, filter)
}

// PoolMetrics reports the background worker pool.
func (s *Service) PoolMetrics() PoolMetrics {
	return s.pool.Metrics()
}

// Shutdown stops accepting background runs and waits for the ones in
// flight. When ctx expires first, in-flight runs are cancelled between steps.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}
