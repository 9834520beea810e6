// Package engine runs graphs: the step executor, the run lifecycle FSM, the
// background worker pool and the Service facade used by every transport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/graphflow/internal/graph"
	"github.com/rendis/graphflow/internal/logging"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// MaxSteps caps the number of steps of a run. 0 means unlimited.
	MaxSteps int
}

// RunOptions tunes a single run.
type RunOptions struct {
	// MaxSteps overrides ExecutorConfig.MaxSteps when > 0. A negative value
	// disables the cap for this run.
	MaxSteps int
	// OnStep, when set, observes the result after every non-final step.
	// The result is owned by the executor; callers must copy what they keep.
	OnStep func(*schema.RunResult)
}

// Executor walks a graph one node at a time, recording a trace of deep-copied
// state snapshots.
type Executor struct {
	config ExecutorConfig
	fsm    *RunFSM
	events *emitter
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor. appender and hub may be nil.
func NewExecutor(cfg ExecutorConfig, appender EventAppender, hub streaming.EventHub, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config: cfg,
		fsm:    NewRunFSM(appender, hub, logger),
		events: &emitter{log: appender, hub: hub, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

// FSM exposes the run lifecycle machine so callers can register hooks.
func (e *Executor) FSM() *RunFSM {
	return e.fsm
}

// Execute runs g from its start node and always returns a result. Node
// errors, panics, dangling targets, the step cap and cancellation end the
// run with the matching status instead of an error return.
func (e *Executor) Execute(ctx context.Context, g *graph.Graph, runID string, initial schema.State, ts tools.Set, opts RunOptions) *schema.RunResult {
	ctx = logging.WithIDs(ctx, runID, g.ID)
	log := logging.LogWith(ctx, e.logger)

	state := schema.CloneState(initial)
	if state == nil {
		state = schema.State{}
	}
	res := &schema.RunResult{
		RunID:       runID,
		GraphID:     g.ID,
		Status:      schema.RunStatusRunning,
		FinalState:  state,
		CurrentNode: g.StartNode,
		Trace:       []schema.StepRecord{},
		StartedAt:   e.now().UTC(),
	}
	e.transition(ctx, res, StatusNew, schema.RunStatusRunning, map[string]any{"start_node": g.StartNode})
	log.InfoContext(ctx, "run started", "start_node", g.StartNode)

	maxSteps := e.maxSteps(opts)
	current := g.StartNode

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			res.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled").
				WithNode(current).WithCause(err)
			return e.finish(ctx, res, schema.RunStatusCancelled)
		}

		nd := g.Nodes[current]
		before := schema.CloneState(state)
		startedAt := e.now()
		next, err := e.invoke(ctx, nd, state, ts)

		rec := schema.StepRecord{
			Step:        step,
			Node:        current,
			StateBefore: before,
			StateAfter:  schema.CloneState(state),
			StartedAt:   startedAt.UTC(),
			DurationMs:  e.now().Sub(startedAt).Milliseconds(),
		}

		if err != nil {
			rec.Error = stepError(err, current)
			res.Trace = append(res.Trace, rec)
			res.Error = rec.Error
			e.emitStep(ctx, res, rec, schema.EventStepFailed)
			log.WarnContext(ctx, "node failed", "node", current, "step", step, "error", err)
			return e.finish(ctx, res, schema.RunStatusFailed)
		}

		rec.Overridden = next != ""
		if !rec.Overridden {
			next = g.Next(current)
		}
		if next != "" {
			n := next
			rec.NextNode = &n
		}
		res.Trace = append(res.Trace, rec)
		e.emitStep(ctx, res, rec, schema.EventStepCompleted)

		if next == "" {
			return e.finish(ctx, res, schema.RunStatusCompleted)
		}
		if !g.Has(next) {
			res.Error = schema.NewErrorf(schema.ErrCodeExecution,
				"node %q routed to unknown node %q", current, next).
				WithNode(current).
				WithDetails(map[string]any{"target": next})
			return e.finish(ctx, res, schema.RunStatusFailed)
		}
		if maxSteps > 0 && len(res.Trace) >= maxSteps {
			res.Error = schema.NewErrorf(schema.ErrCodeRunaway,
				"run exceeded %d steps", maxSteps).
				WithNode(current).
				WithDetails(map[string]any{"max_steps": maxSteps, "next_node": next})
			res.CurrentNode = next
			return e.finish(ctx, res, schema.RunStatusStoppedMaxLoops)
		}

		current = next
		res.CurrentNode = current
		if opts.OnStep != nil {
			opts.OnStep(res)
		}
	}
}

func (e *Executor) maxSteps(opts RunOptions) int {
	switch {
	case opts.MaxSteps > 0:
		return opts.MaxSteps
	case opts.MaxSteps < 0:
		return 0
	default:
		return e.config.MaxSteps
	}
}

// invoke executes one node, turning a panic into an error so the run can
// still record its final step.
func (e *Executor) invoke(ctx context.Context, nd *graph.NodeDef, state schema.State, ts tools.Set) (next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = ""
			err = schema.NewErrorf(schema.ErrCodeExecution, "node panicked: %v", r).
				WithNode(nd.Name).
				WithDetails(map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	return nd.Node.Execute(logging.WithNode(ctx, nd.Name), state, ts)
}

// stepError normalizes a node error into an EXECUTION_ERROR attached to node.
// A coded inner error keeps its code under details.cause_code.
func stepError(err error, node string) *schema.Error {
	var se *schema.Error
	if errors.As(err, &se) && se.Code == schema.ErrCodeExecution {
		out := &schema.Error{Code: se.Code, Message: se.Message, Details: se.Details, Node: se.Node, Cause: se.Cause}
		if out.Node == "" {
			out.Node = node
		}
		return out
	}
	out := schema.NewError(schema.ErrCodeExecution, err.Error()).WithNode(node).WithCause(err)
	if se != nil {
		out.Details = map[string]any{"cause_code": se.Code}
	}
	return out
}

func (e *Executor) finish(ctx context.Context, res *schema.RunResult, status schema.RunStatus) *schema.RunResult {
	res.Status = status
	completed := e.now().UTC()
	res.CompletedAt = &completed
	if status == schema.RunStatusCompleted {
		res.CurrentNode = ""
	}

	payload := map[string]any{"steps": len(res.Trace)}
	if res.Error != nil {
		payload["error"] = res.Error
	}
	e.transition(ctx, res, schema.RunStatusRunning, status, payload)

	log := logging.LogWith(ctx, e.logger)
	if status == schema.RunStatusCompleted {
		log.InfoContext(ctx, "run finished", "status", status, "steps", len(res.Trace))
	} else {
		log.WarnContext(ctx, "run finished", "status", status, "steps", len(res.Trace), "error", res.Error)
	}
	return res
}

// transition drives the FSM. Event persistence failures never change the
// outcome of a run, they are logged. Events are recorded even when the run
// context is already cancelled.
func (e *Executor) transition(ctx context.Context, res *schema.RunResult, from, to schema.RunStatus, payload any) {
	if err := e.fsm.Transition(context.WithoutCancel(ctx), res.RunID, res.GraphID, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "run transition", "from", from, "to", to, "error", err)
	}
}

func (e *Executor) emitStep(ctx context.Context, res *schema.RunResult, rec schema.StepRecord, eventType string) {
	err := e.events.emit(context.WithoutCancel(ctx), runEvent{
		runID:   res.RunID,
		graphID: res.GraphID,
		node:    rec.Node,
		step:    rec.Step,
		typ:     eventType,
		payload: rec.Clone(),
	})
	if err != nil {
		logging.LogWith(ctx, e.logger).ErrorContext(ctx, "emit step event", "step", rec.Step, "error", err)
	}
}
