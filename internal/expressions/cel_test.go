package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/graphflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Literals(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = e.Evaluate(context.Background(), `"a" + "b"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestCEL_StateAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"state": map[string]any{"quality_score": 0.9, "threshold": 0.8},
	}
	ok, err := e.EvaluateBool(context.Background(), "state.quality_score >= state.threshold", data)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_HasMacroOnMissingKey(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), "has(state.done) && state.done", map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_RunMetadata(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "run.node", map[string]any{
		"run": map[string]any{"node": "evaluate"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evaluate", out)
}

func TestCEL_EvaluateBool_NonBool(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), "1 + 1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile("state.x >=")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = e.Compile("")
	require.Error(t, err)
}

func TestCEL_RuntimeError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "state.missing > 1", map[string]any{"state": map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_Caching(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	require.NoError(t, e.Compile("true"))
	_, err = e.Evaluate(context.Background(), "true", nil)
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestCEL_Concurrent(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "state.n * 2", map[string]any{
				"state": map[string]any{"n": n},
			})
			assert.NoError(t, err)
			assert.Equal(t, int64(n*2), out)
		}(i)
	}
	wg.Wait()
}
