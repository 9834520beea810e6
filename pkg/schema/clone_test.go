package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneState_Deep(t *testing.T) {
	orig := State{
		"n":      1,
		"s":      "x",
		"list":   []any{1, map[string]any{"k": "v"}},
		"nested": map[string]any{"inner": []any{"a"}},
		"tags":   []string{"a", "b"},
		"typed":  map[string]int{"x": 1},
		"ints":   []int{1, 2},
		"ptr":    &[]any{"p"},
	}
	cp := CloneState(orig)
	require.Equal(t, orig["n"], cp["n"])
	assert.Equal(t, orig["tags"], cp["tags"])
	assert.Equal(t, orig["typed"], cp["typed"])

	cp["list"].([]any)[1].(map[string]any)["k"] = "changed"
	cp["nested"].(map[string]any)["inner"].([]any)[0] = "z"
	cp["tags"].([]string)[0] = "z"
	cp["typed"].(map[string]int)["x"] = 9
	cp["ints"].([]int)[0] = 9
	(*cp["ptr"].(*[]any))[0] = "q"

	assert.Equal(t, "v", orig["list"].([]any)[1].(map[string]any)["k"])
	assert.Equal(t, "a", orig["nested"].(map[string]any)["inner"].([]any)[0])
	assert.Equal(t, "a", orig["tags"].([]string)[0])
	assert.Equal(t, 1, orig["typed"].(map[string]int)["x"])
	assert.Equal(t, 1, orig["ints"].([]int)[0])
	assert.Equal(t, "p", (*orig["ptr"].(*[]any))[0])
}

func TestCloneState_InterfaceContainers(t *testing.T) {
	orig := State{"m": map[string][]any{"a": {map[string]any{"x": 1}}}}
	cp := CloneState(orig)

	cp["m"].(map[string][]any)["a"][0].(map[string]any)["x"] = 2
	assert.Equal(t, 1, orig["m"].(map[string][]any)["a"][0].(map[string]any)["x"])
}

func TestCloneState_Nil(t *testing.T) {
	assert.Nil(t, CloneState(nil))
	cp := CloneState(State{"nil": nil, "nilmap": map[string]any(nil)})
	assert.Nil(t, cp["nil"])
}

func TestRunResult_Clone(t *testing.T) {
	next := "b"
	done := time.Now()
	r := &RunResult{
		RunID:      "r1",
		Status:     RunStatusCompleted,
		FinalState: State{"k": []any{1}},
		Trace: []StepRecord{{
			Node:        "a",
			StateBefore: State{},
			StateAfter:  State{"k": []any{1}},
			NextNode:    &next,
		}},
		Error:       NewError(ErrCodeExecution, "x").WithDetails(map[string]any{"a": 1}),
		CompletedAt: &done,
	}

	cp := r.Clone()
	require.Equal(t, r.RunID, cp.RunID)

	cp.FinalState["k"].([]any)[0] = 2
	cp.Trace[0].StateAfter["k"] = "x"
	*cp.Trace[0].NextNode = "z"
	cp.Error.Details["a"] = 2

	assert.Equal(t, 1, r.FinalState["k"].([]any)[0])
	assert.Equal(t, []any{1}, r.Trace[0].StateAfter["k"])
	assert.Equal(t, "b", *r.Trace[0].NextNode)
	assert.Equal(t, 1, r.Error.Details["a"])
	assert.Nil(t, (*RunResult)(nil).Clone())
}
