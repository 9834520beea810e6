package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while graphs run.
type StreamEvent struct {
	RunID     string    `json:"run_id,omitempty"`
	GraphID   string    `json:"graph_id,omitempty"`
	Node      string    `json:"node,omitempty"`
	Step      int       `json:"step,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	GraphID    string   `json:"graph_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
