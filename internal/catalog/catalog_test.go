package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphflow/internal/engine"
	"github.com/rendis/graphflow/internal/logging"
	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/scheduler"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
)

const gradingYAML = `
graphs:
  - id: grader
    name: Grader
    description: scores and routes
    start_node: score
    nodes:
      - name: score
        function: expr.set
        config:
          assign:
            total: "points * 2"
      - name: route
        function: cel.route
        config:
          routes:
            - when: "state.total >= 10"
              to: pass
          default: fail
      - name: pass
        function: expr.set
        config:
          assign:
            verdict: '"pass"'
      - name: fail
        function: expr.set
        config:
          assign:
            verdict: '"fail"'
    edges:
      score: route
      route: null
      pass: null
      fail: null
schedules:
  - id: nightly-grader
    graph_id: grader
    cron: "0 2 * * *"
    initial_state:
      points: 7
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(gradingYAML))
	require.NoError(t, err)

	require.Len(t, c.Graphs, 1)
	g := c.Graphs[0]
	assert.Equal(t, "grader", g.ID)
	assert.Equal(t, "score", g.StartNode)
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, "cel.route", g.Nodes[1].Function)
	require.NotNil(t, g.Edges["score"])
	assert.Equal(t, "route", *g.Edges["score"])
	assert.Contains(t, g.Edges, "route")
	assert.Nil(t, g.Edges["route"])

	require.Len(t, c.Schedules, 1)
	s := c.Schedules[0]
	assert.Equal(t, "0 2 * * *", s.CronExpression)
	assert.Equal(t, 7, s.InitialState["points"])
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.Graphs)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("graphs: []\nworkflows: []\n"))
	assert.Error(t, err)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("schedules:\n  - graph_id: x\n    cron: \"* * * * *\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(gradingYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml: ["), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, c.Graphs, 1)
	require.Len(t, c.Schedules, 2)
	assert.Equal(t, "nightly-grader", c.Schedules[0].ID, "files merge in name order")
	assert.Equal(t, "x", c.Schedules[1].GraphID)

	single, err := Load(filepath.Join(dir, "a.yaml"))
	require.NoError(t, err)
	assert.Len(t, single.Graphs, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func newService(t *testing.T, st store.Store) *engine.Service {
	t.Helper()
	nr := nodes.NewRegistry()
	tr := tools.NewRegistry()
	require.NoError(t, nodes.RegisterBuiltins(nr))
	require.NoError(t, tools.RegisterBuiltins(tr))

	svc, err := engine.NewService(engine.ServiceConfig{}, nr, tr, st, streaming.NewMemoryHub(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func TestApply(t *testing.T) {
	st := store.NewMemoryStore(0)
	svc := newService(t, st)
	sched := scheduler.NewScheduler(st, svc, logging.Discard(), scheduler.Options{})
	ctx := context.Background()

	c, err := Parse(strings.NewReader(gradingYAML))
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, c, svc, sched, logging.Discard()))

	res, err := svc.Run(ctx, "grader", schema.State{"points": 7}, nil)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusCompleted, res.Status, "%+v", res.Error)
	assert.Equal(t, "pass", res.FinalState["verdict"])

	jobs, err := sched.ListJobs(ctx, store.ScheduledJobFilter{GraphID: "grader"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly-grader", jobs[0].ID)

	// Applying again is a no-op.
	require.NoError(t, Apply(ctx, c, svc, sched, logging.Discard()))
	assert.Len(t, svc.ListGraphs(ctx), 1)
}

func TestApply_NoScheduler(t *testing.T) {
	svc := newService(t, store.NewMemoryStore(0))

	c, err := Parse(strings.NewReader(gradingYAML))
	require.NoError(t, err)
	require.NoError(t, Apply(context.Background(), c, svc, nil, logging.Discard()))
	assert.Len(t, svc.ListGraphs(context.Background()), 1)
}

func TestApply_InvalidGraph(t *testing.T) {
	svc := newService(t, store.NewMemoryStore(0))

	c := &Catalog{Graphs: []schema.GraphDefinition{{
		ID:        "broken",
		Name:      "broken",
		Nodes:     []schema.NodeSpec{{Name: "a", Function: "does.not.exist"}},
		Edges:     map[string]*string{"a": nil},
		StartNode: "a",
	}}}
	err := Apply(context.Background(), c, svc, nil, logging.Discard())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownCapability))
	assert.Contains(t, err.Error(), "broken")
}
