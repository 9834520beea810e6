package nodes

import (
	"context"
	"testing"

	"github.com/rendis/graphflow/internal/tools"
	"github.com/rendis/graphflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	return reg
}

func TestBuiltins_Registered(t *testing.T) {
	reg := builtinRegistry(t)
	for _, name := range []string{"cel.route", "expr.set", "jq.transform", "schema.validate", "tool.call"} {
		assert.True(t, reg.Has(name), name)
	}
}

func TestCELRoute(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("cel.route", map[string]any{
		"routes": []any{
			map[string]any{"when": "state.score >= 0.8", "to": "done"},
			map[string]any{"when": "state.score >= 0.5", "to": "improve"},
		},
		"default": "reject",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"done", "improve", "reject"}, TargetsOf(n))

	tests := []struct {
		score float64
		want  string
	}{
		{0.9, "done"},
		{0.6, "improve"},
		{0.1, "reject"},
	}
	for _, tt := range tests {
		next, err := n.Execute(context.Background(), schema.State{"score": tt.score}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, next)
	}
}

func TestCELRoute_NoDefaultFallsThrough(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("cel.route", map[string]any{
		"routes": []any{map[string]any{"when": "has(state.flag)", "to": "flagged"}},
	})
	require.NoError(t, err)

	next, err := n.Execute(context.Background(), schema.State{}, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestCELRoute_ConfigErrors(t *testing.T) {
	reg := builtinRegistry(t)

	_, err := reg.Resolve("cel.route", map[string]any{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = reg.Resolve("cel.route", map[string]any{
		"routes": []any{map[string]any{"when": "state.x >", "to": "a"}},
	})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = reg.Resolve("cel.route", map[string]any{
		"routes": []any{map[string]any{"when": "true"}},
	})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestExprSet(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("expr.set", map[string]any{
		"assign": map[string]any{
			"a_count": "(count ?? 0) + 1",
			"b_label": "a_count > 2 ? 'many' : 'few'",
		},
		"next": "a_count >= 3 ? 'stop' : nil",
	})
	require.NoError(t, err)

	state := schema.State{}
	next, err := n.Execute(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, 1, state["a_count"])
	assert.Equal(t, "few", state["b_label"])

	state = schema.State{"count": 2}
	next, err = n.Execute(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, "stop", next)
	assert.Equal(t, "many", state["b_label"])
}

func TestExprSet_NonStringNext(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("expr.set", map[string]any{"next": "42"})
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), schema.State{}, nil)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestExprSet_ConfigErrors(t *testing.T) {
	reg := builtinRegistry(t)
	_, err := reg.Resolve("expr.set", map[string]any{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = reg.Resolve("expr.set", map[string]any{"assign": map[string]any{"x": "1 +"}})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestJQTransform(t *testing.T) {
	reg := builtinRegistry(t)

	n, err := reg.Resolve("jq.transform", map[string]any{"query": "[.items[] | select(. > 1)]", "target": "big"})
	require.NoError(t, err)
	state := schema.State{"items": []any{1, 2, 3}}
	_, err = n.Execute(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(3)}, state["big"])

	merge, err := reg.Resolve("jq.transform", map[string]any{"query": "{total: (.items | length)}"})
	require.NoError(t, err)
	_, err = merge.Execute(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, state["total"])
}

func TestJQTransform_MergeNeedsObject(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("jq.transform", map[string]any{"query": ".items | length"})
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), schema.State{"items": []any{}}, nil)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestSchemaValidate(t *testing.T) {
	reg := builtinRegistry(t)
	cfg := map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"code"},
		},
	}

	n, err := reg.Resolve("schema.validate", cfg)
	require.NoError(t, err)
	assert.Empty(t, TargetsOf(n))

	next, err := n.Execute(context.Background(), schema.State{"code": "x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = n.Execute(context.Background(), schema.State{}, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSchemaValidate_OnInvalidRoutes(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("schema.validate", map[string]any{
		"schema":     map[string]any{"type": "object", "required": []any{"code"}},
		"on_invalid": "reject",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"reject"}, TargetsOf(n))

	state := schema.State{}
	next, err := n.Execute(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, "reject", next)
	assert.NotEmpty(t, state["validation_errors"])
}

func TestSchemaValidate_ConfigErrors(t *testing.T) {
	reg := builtinRegistry(t)
	_, err := reg.Resolve("schema.validate", map[string]any{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = reg.Resolve("schema.validate", map[string]any{"schema": map[string]any{"type": 5}})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func cryptoSet(t *testing.T) tools.Set {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range tools.CryptoTools() {
		require.NoError(t, reg.Register(tool))
	}
	set, err := reg.Bind(nil)
	require.NoError(t, err)
	return set
}

func TestToolCall(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("tool.call", map[string]any{
		"tool":   "crypto.hash",
		"args":   map[string]any{"data": "name + \"!\"", "algorithm": "\"sha256\""},
		"target": "digest",
	})
	require.NoError(t, err)

	state := schema.State{"name": "graphflow"}
	next, err := n.Execute(context.Background(), state, cryptoSet(t))
	require.NoError(t, err)
	assert.Empty(t, next)

	digest, ok := state["digest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sha256", digest["algorithm"])
	assert.Len(t, digest["hash"], 64)
}

func TestToolCall_MergesWithoutTarget(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("tool.call", map[string]any{"tool": "crypto.uuid"})
	require.NoError(t, err)

	state := schema.State{}
	_, err = n.Execute(context.Background(), state, cryptoSet(t))
	require.NoError(t, err)
	assert.Len(t, state["uuid"], 36)
}

func TestToolCall_UnboundTool(t *testing.T) {
	reg := builtinRegistry(t)
	n, err := reg.Resolve("tool.call", map[string]any{"tool": "crypto.hash", "args": map[string]any{"data": "\"x\""}})
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), schema.State{}, tools.Set{})
	assert.Equal(t, schema.ErrCodeUnknownCapability, schema.CodeOf(err))
}

func TestToolCall_ConfigErrors(t *testing.T) {
	reg := builtinRegistry(t)
	_, err := reg.Resolve("tool.call", map[string]any{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = reg.Resolve("tool.call", map[string]any{"tool": "jq", "args": map[string]any{"data": "(("}})
	assert.Error(t, err)
}
