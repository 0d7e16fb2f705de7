// Package notify delivers workflow events to external channels. Dispatch
// is queued and asynchronous: a delivery failure can never roll back the
// state transition that produced the event.
package notify

import (
	"context"
	"time"
)

// EventType classifies workflow notifications.
type EventType string

const (
	EventStepStarted       EventType = "step_started"
	EventStepEscalated     EventType = "step_escalated"
	EventStepOverdue       EventType = "step_overdue"
	EventInstanceCompleted EventType = "instance_completed"
	EventInstanceRejected  EventType = "instance_rejected"
	EventInstanceCancelled EventType = "instance_cancelled"
)

// Event is one notification payload.
type Event struct {
	Type           EventType              `json:"type"`
	InstanceID     string                 `json:"instance_id"`
	StepInstanceID string                 `json:"step_instance_id,omitempty"`
	EntityType     string                 `json:"entity_type,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	Assignee       string                 `json:"assignee,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
}

// Notifier accepts events for delivery. Publish must not block the caller
// beyond enqueueing.
type Notifier interface {
	Publish(event Event)
}

// Sender performs one delivery attempt to a concrete channel.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// Nop discards all events; used in tests and when no channel is configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(Event) {}
