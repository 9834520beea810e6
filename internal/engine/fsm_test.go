package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphflow/internal/logging"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/pkg/schema"
)

func TestRunFSM_ValidTransitions(t *testing.T) {
	for _, to := range []schema.RunStatus{
		schema.RunStatusCompleted,
		schema.RunStatusStoppedMaxLoops,
		schema.RunStatusFailed,
		schema.RunStatusCancelled,
	} {
		t.Run(string(to), func(t *testing.T) {
			app := &mockAppender{}
			fsm := NewRunFSM(app, nil, logging.Discard())
			ctx := context.Background()

			require.NoError(t, fsm.Transition(ctx, "run-1", "g1", StatusNew, schema.RunStatusRunning, nil))
			require.NoError(t, fsm.Transition(ctx, "run-1", "g1", schema.RunStatusRunning, to, nil))

			assert.Equal(t, []string{schema.EventRunStarted, runEventType(to)}, app.Types())
		})
	}
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app, nil, logging.Discard())
	ctx := context.Background()

	cases := []struct{ from, to schema.RunStatus }{
		{StatusNew, schema.RunStatusCompleted},
		{schema.RunStatusCompleted, schema.RunStatusRunning},
		{schema.RunStatusFailed, schema.RunStatusCancelled},
		{schema.RunStatusRunning, schema.RunStatusRunning},
	}
	for _, c := range cases {
		err := fsm.Transition(ctx, "run-1", "g1", c.from, c.to, nil)
		require.Error(t, err)

		var se *schema.Error
		require.True(t, errors.As(err, &se))
		assert.Equal(t, schema.ErrCodeInvalidTransition, se.Code)
		assert.Equal(t, string(c.from), se.Details["from"])
	}
	assert.Empty(t, app.Types(), "rejected transitions emit nothing")
}

func TestRunFSM_TerminalStatesHaveNoExits(t *testing.T) {
	for status, next := range ValidRunTransitions {
		if status.Terminal() && status != StatusNew {
			assert.Empty(t, next, "terminal status %s", status)
		}
	}
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(&mockAppender{}, nil, logging.Discard())
	ctx := context.Background()

	var calls []string
	fsm.OnBefore(schema.RunStatusRunning, schema.RunStatusCompleted, func(from, to string) error {
		calls = append(calls, "before:"+from+"->"+to)
		return nil
	})
	fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusCompleted, func(from, to string) error {
		calls = append(calls, "after:"+from+"->"+to)
		return nil
	})

	require.NoError(t, fsm.Transition(ctx, "run-1", "g1", schema.RunStatusRunning, schema.RunStatusCompleted, nil))
	assert.Equal(t, []string{"before:running->completed", "after:running->completed"}, calls)
}

func TestRunFSM_BeforeHookAborts(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app, nil, logging.Discard())

	fsm.OnBefore(StatusNew, schema.RunStatusRunning, func(string, string) error {
		return errors.New("not today")
	})

	err := fsm.Transition(context.Background(), "run-1", "g1", StatusNew, schema.RunStatusRunning, nil)
	require.EqualError(t, err, "not today")
	assert.Empty(t, app.Types())
}

func TestRunFSM_AppenderFailure(t *testing.T) {
	fsm := NewRunFSM(failAppender{}, nil, logging.Discard())

	err := fsm.Transition(context.Background(), "run-1", "g1", StatusNew, schema.RunStatusRunning, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestRunFSM_PayloadPersistedAndPublished(t *testing.T) {
	app := &mockAppender{}
	hub := streaming.NewMemoryHub()
	ch, unsub, err := hub.Subscribe(context.Background(), streaming.EventFilter{GraphID: "g1"})
	require.NoError(t, err)
	defer unsub()

	fsm := NewRunFSM(app, hub, logging.Discard())
	require.NoError(t, fsm.Transition(context.Background(), "run-1", "g1",
		StatusNew, schema.RunStatusRunning, map[string]any{"start_node": "A"}))

	require.Len(t, app.events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(app.events[0].Payload, &payload))
	assert.Equal(t, "A", payload["start_node"])
	assert.Equal(t, "run-1", app.events[0].RunID)

	ev := <-ch
	assert.Equal(t, schema.EventRunStarted, ev.EventType)
	assert.Equal(t, "run-1", ev.RunID)
}
