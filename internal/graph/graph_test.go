package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, schema.State, tools.Set) (string, error) { return "", nil }

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	reg := nodes.NewRegistry()
	require.NoError(t, reg.RegisterFunc("noop", "", noop))
	require.NoError(t, nodes.RegisterBuiltins(reg))
	b, err := NewBuilder(reg)
	require.NoError(t, err)
	return b
}

func twoNodeDef() *schema.GraphDefinition {
	return &schema.GraphDefinition{
		Name: "two",
		Nodes: []schema.NodeSpec{
			{Name: "first", Function: "noop"},
			{Name: "second", Function: "noop"},
		},
		Edges:     map[string]*string{"first": schema.Edge("second"), "second": nil},
		StartNode: "first",
	}
}

func TestBuild_Success(t *testing.T) {
	b := newBuilder(t)
	g, err := b.Build(twoNodeDef())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(g.ID, "g_"))
	assert.Equal(t, "first", g.StartNode)
	assert.Equal(t, "second", g.Next("first"))
	assert.Equal(t, "", g.Next("second"))
	assert.Equal(t, []string{"first", "second"}, g.NodeNames())
	assert.True(t, g.Has("second"))
	assert.NotNil(t, g.Nodes["first"].Node)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestBuild_ExplicitID(t *testing.T) {
	b := newBuilder(t)
	def := twoNodeDef()
	def.ID = "fixed"

	g, err := b.Build(def)
	require.NoError(t, err)
	assert.Equal(t, "fixed", g.ID)
}

func TestBuild_FreshIDs(t *testing.T) {
	b := newBuilder(t)
	g1, err := b.Build(twoNodeDef())
	require.NoError(t, err)
	g2, err := b.Build(twoNodeDef())
	require.NoError(t, err)
	assert.NotEqual(t, g1.ID, g2.ID)
}

func TestBuild_ValidationErrors(t *testing.T) {
	b := newBuilder(t)

	tests := []struct {
		name   string
		mutate func(*schema.GraphDefinition)
		code   string
		field  string
	}{
		{"unknown start", func(d *schema.GraphDefinition) { d.StartNode = "nope" }, schema.ErrCodeValidation, "start_node"},
		{"unknown edge target", func(d *schema.GraphDefinition) { d.Edges["second"] = schema.Edge("x") }, schema.ErrCodeValidation, "edges.second"},
		{"unknown edge source", func(d *schema.GraphDefinition) { d.Edges["x"] = nil }, schema.ErrCodeValidation, "edges.x"},
		{"unknown function", func(d *schema.GraphDefinition) { d.Nodes[1].Function = "missing" }, schema.ErrCodeUnknownCapability, "nodes[1].function"},
		{"duplicate name", func(d *schema.GraphDefinition) { d.Nodes[1].Name = "first" }, schema.ErrCodeValidation, "nodes[1].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := twoNodeDef()
			tt.mutate(def)
			_, err := b.Build(def)
			require.Error(t, err)
			gfErr, ok := err.(*schema.Error)
			require.True(t, ok)
			assert.Equal(t, tt.code, gfErr.Code)
			assert.Equal(t, tt.field, gfErr.Details["field"])
		})
	}
}

func TestBuild_RouterTargetsChecked(t *testing.T) {
	b := newBuilder(t)
	def := twoNodeDef()
	def.Nodes = append(def.Nodes, schema.NodeSpec{
		Name:     "route",
		Function: "cel.route",
		Config: map[string]any{
			"routes": []any{map[string]any{"when": "true", "to": "ghost"}},
		},
	})

	_, err := b.Build(def)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	def.Nodes[2].Config["routes"] = []any{map[string]any{"when": "true", "to": "second"}}
	g, err := b.Build(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, g.DynamicTargets("route"))
	assert.Nil(t, g.DynamicTargets("first"))
}

func TestRegistry(t *testing.T) {
	b := newBuilder(t)
	reg := NewRegistry()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	b.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	g1, err := b.Build(twoNodeDef())
	require.NoError(t, err)
	g2, err := b.Build(twoNodeDef())
	require.NoError(t, err)

	require.NoError(t, reg.Add(g2))
	require.NoError(t, reg.Add(g1))
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(reg.Add(g1)))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Add(nil)))

	got, err := reg.Get(g1.ID)
	require.NoError(t, err)
	assert.Same(t, g1, got)

	_, err = reg.Get("missing")
	assert.Equal(t, schema.ErrCodeUnknownGraph, schema.CodeOf(err))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, g1.ID, list[0].ID)
	assert.Equal(t, 2, list[0].NodeCount)
	assert.Equal(t, 2, reg.Count())
}
