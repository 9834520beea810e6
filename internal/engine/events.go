package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
)

// EventAppender is satisfied by the Store and EventLog; used to persist run
// events as they happen.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// emitter fans a run event out to the event log and the live hub.
// Either side may be nil.
type emitter struct {
	log    EventAppender
	hub    streaming.EventHub
	logger *slog.Logger
}

type runEvent struct {
	runID   string
	graphID string
	node    string
	step    int
	typ     string
	payload any
}

// emit persists ev first and publishes it second. A persistence failure is
// returned; hub failures are logged only since subscribers are best effort.
func (e *emitter) emit(ctx context.Context, ev runEvent) error {
	if e == nil {
		return nil
	}
	if e.log != nil {
		var raw json.RawMessage
		if ev.payload != nil {
			b, err := json.Marshal(ev.payload)
			if err != nil {
				e.logger.WarnContext(ctx, "event payload not serializable",
					"event_type", ev.typ, "error", err)
			} else {
				raw = b
			}
		}
		if err := e.log.AppendEvent(ctx, &store.Event{
			RunID:   ev.runID,
			GraphID: ev.graphID,
			Node:    ev.node,
			Type:    ev.typ,
			Payload: raw,
		}); err != nil {
			return err
		}
	}
	if e.hub != nil {
		if err := e.hub.Publish(ctx, streaming.StreamEvent{
			RunID:     ev.runID,
			GraphID:   ev.graphID,
			Node:      ev.node,
			Step:      ev.step,
			EventType: ev.typ,
			Payload:   ev.payload,
		}); err != nil {
			e.logger.WarnContext(ctx, "publish event", "event_type", ev.typ, "error", err)
		}
	}
	return nil
}
