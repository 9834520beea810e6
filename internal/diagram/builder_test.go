package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphflow/internal/graph"
	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/review"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

// --- fixtures ---

func linearGraph(t *testing.T) *graph.Graph {
	t.Helper()
	reg := nodes.NewRegistry()
	require.NoError(t, reg.RegisterFunc("noop", "", func(context.Context, schema.State, tools.Set) (string, error) {
		return "", nil
	}))
	b, err := graph.NewBuilder(reg)
	require.NoError(t, err)
	g, err := b.Build(&schema.GraphDefinition{
		Name: "ETL Pipeline",
		Nodes: []schema.NodeSpec{
			{Name: "fetch", Function: "noop"},
			{Name: "transform", Function: "noop"},
			{Name: "store", Function: "noop"},
		},
		Edges: map[string]*string{
			"fetch":     schema.Edge("transform"),
			"transform": schema.Edge("store"),
			"store":     nil,
		},
		StartNode: "fetch",
	})
	require.NoError(t, err)
	return g
}

func reviewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	reg := nodes.NewRegistry()
	require.NoError(t, review.RegisterNodes(reg))
	b, err := graph.NewBuilder(reg)
	require.NoError(t, err)
	def := review.Definition()
	g, err := b.Build(&def)
	require.NoError(t, err)
	return g
}

func step(i int, node string, next string) schema.StepRecord {
	rec := schema.StepRecord{Step: i, Node: node, DurationMs: 2}
	if next != "" {
		rec.NextNode = &next
	}
	return rec
}

func nodeByID(model *DiagramModel, id string) *Node {
	return findNode(model.Nodes, id)
}

func edgeBetween(model *DiagramModel, from, to string) *Edge {
	if i := edgeIndex(model.Edges, from, to); i >= 0 {
		return &model.Edges[i]
	}
	return nil
}

// --- tests ---

func TestBuildLinearGraph(t *testing.T) {
	model, err := Build(linearGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "ETL Pipeline", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, StartID, model.Nodes[0].ID)
	assert.Equal(t, "fetch", model.Nodes[1].ID)
	assert.Equal(t, EndID, model.Nodes[4].ID)
	assert.Equal(t, "fetch\n(noop)", model.Nodes[1].Label)
	assert.Equal(t, NodeKindNode, model.Nodes[1].Kind)

	assert.Equal(t, []Edge{
		{From: StartID, To: "fetch"},
		{From: "fetch", To: "transform"},
		{From: "transform", To: "store"},
		{From: "store", To: EndID},
	}, model.Edges)

	assert.Equal(t, [][]string{{StartID}, {"fetch"}, {"transform"}, {"store"}, {EndID}}, model.Levels)
	assert.Empty(t, model.RunStatus)
}

func TestBuildRouterGraph(t *testing.T) {
	model, err := Build(reviewGraph(t), nil)
	require.NoError(t, err)

	eval := nodeByID(model, review.NodeEvaluateQuality)
	require.NotNil(t, eval)
	assert.Equal(t, NodeKindRouter, eval.Kind)
	assert.Equal(t, review.NodeEvaluateQuality, eval.Label, "label omits function when it matches the name")

	loop := edgeBetween(model, review.NodeEvaluateQuality, review.NodeSuggestImprovements)
	require.NotNil(t, loop)
	assert.True(t, loop.Dynamic)
	require.NotNil(t, edgeBetween(model, review.NodeEvaluateQuality, EndID))

	// Loop-back targets are already placed, so depth follows the static chain.
	assert.Len(t, model.Levels, 7)
}

func TestBuildUnreachableNodes(t *testing.T) {
	reg := nodes.NewRegistry()
	require.NoError(t, reg.RegisterFunc("noop", "", func(context.Context, schema.State, tools.Set) (string, error) {
		return "", nil
	}))
	b, err := graph.NewBuilder(reg)
	require.NoError(t, err)
	g, err := b.Build(&schema.GraphDefinition{
		Name:      "islands",
		Nodes:     []schema.NodeSpec{{Name: "a", Function: "noop"}, {Name: "orphan", Function: "noop"}},
		StartNode: "a",
	})
	require.NoError(t, err)

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{StartID}, {"a"}, {"orphan"}, {EndID}}, model.Levels)
}

func TestBuildOverlayCompletedRun(t *testing.T) {
	g := reviewGraph(t)
	run := &schema.RunResult{
		RunID:   "run-1",
		GraphID: g.ID,
		Status:  schema.RunStatusCompleted,
		Trace: []schema.StepRecord{
			step(0, review.NodeExtract, review.NodeCheckComplexity),
			step(1, review.NodeCheckComplexity, review.NodeDetectIssues),
			step(2, review.NodeDetectIssues, review.NodeSuggestImprovements),
			step(3, review.NodeSuggestImprovements, review.NodeEvaluateQuality),
			step(4, review.NodeEvaluateQuality, review.NodeSuggestImprovements),
			step(5, review.NodeSuggestImprovements, review.NodeEvaluateQuality),
			step(6, review.NodeEvaluateQuality, ""),
		},
	}

	model, err := Build(g, run)
	require.NoError(t, err)
	assert.Equal(t, "completed", model.RunStatus)

	sugg := nodeByID(model, review.NodeSuggestImprovements)
	require.NotNil(t, sugg.Status)
	assert.Equal(t, "completed", sugg.Status.Status)
	assert.Equal(t, 2, sugg.Status.Visits)
	assert.Equal(t, int64(4), sugg.Status.DurationMs)

	assert.Equal(t, 1, edgeBetween(model, StartID, review.NodeExtract).Taken)
	assert.Equal(t, 1, edgeBetween(model, review.NodeEvaluateQuality, review.NodeSuggestImprovements).Taken)
	assert.Equal(t, 2, edgeBetween(model, review.NodeSuggestImprovements, review.NodeEvaluateQuality).Taken)
	assert.Equal(t, 1, edgeBetween(model, review.NodeEvaluateQuality, EndID).Taken)
	assert.Nil(t, nodeByID(model, StartID).Status)
}

func TestBuildOverlayFailedStep(t *testing.T) {
	g := linearGraph(t)
	failing := step(1, "transform", "")
	failing.Error = schema.NewError(schema.ErrCodeExecution, "bad input").WithNode("transform")
	run := &schema.RunResult{
		RunID:   "run-1",
		GraphID: g.ID,
		Status:  schema.RunStatusFailed,
		Trace:   []schema.StepRecord{step(0, "fetch", "transform"), failing},
		Error:   failing.Error,
	}

	model, err := Build(g, run)
	require.NoError(t, err)

	tr := nodeByID(model, "transform")
	assert.Equal(t, "failed", tr.Status.Status)
	assert.Equal(t, "bad input", tr.Status.Error)
	assert.Nil(t, nodeByID(model, "store").Status)
	assert.Zero(t, edgeBetween(model, "transform", "store").Taken)
}

func TestBuildOverlayObservedOverride(t *testing.T) {
	g := linearGraph(t)
	run := &schema.RunResult{
		RunID:   "run-1",
		GraphID: g.ID,
		Status:  schema.RunStatusCompleted,
		Trace:   []schema.StepRecord{step(0, "fetch", "store"), step(1, "store", "")},
	}

	model, err := Build(g, run)
	require.NoError(t, err)

	skip := edgeBetween(model, "fetch", "store")
	require.NotNil(t, skip)
	assert.True(t, skip.Dynamic)
	assert.Equal(t, 1, skip.Taken)
	assert.Nil(t, nodeByID(model, "transform").Status)
}

func TestBuildOverlayDanglingTarget(t *testing.T) {
	g := linearGraph(t)
	run := &schema.RunResult{
		RunID:   "run-1",
		GraphID: g.ID,
		Status:  schema.RunStatusFailed,
		Trace:   []schema.StepRecord{step(0, "fetch", "ghost")},
		Error:   schema.NewError(schema.ErrCodeExecution, "routed to unknown node").WithNode("fetch"),
	}

	model, err := Build(g, run)
	require.NoError(t, err)

	fetch := nodeByID(model, "fetch")
	assert.Equal(t, "failed", fetch.Status.Status)
	assert.Contains(t, fetch.Status.Error, "unknown node")
	assert.Nil(t, edgeBetween(model, "fetch", "ghost"))
}

func TestBuildOverlayRunningRun(t *testing.T) {
	g := linearGraph(t)
	run := &schema.RunResult{
		RunID:       "run-1",
		GraphID:     g.ID,
		Status:      schema.RunStatusRunning,
		CurrentNode: "transform",
		Trace:       []schema.StepRecord{step(0, "fetch", "transform")},
	}

	model, err := Build(g, run)
	require.NoError(t, err)
	assert.Equal(t, "running", nodeByID(model, "transform").Status.Status)
	assert.Equal(t, "completed", nodeByID(model, "fetch").Status.Status)
}

func TestBuildRejectsForeignRun(t *testing.T) {
	_, err := Build(linearGraph(t), &schema.RunResult{RunID: "r", GraphID: "other"})
	assert.Error(t, err)

	_, err = Build(nil, nil)
	assert.Error(t, err)
}
