// Package bus publishes pipeline lifecycle events for downstream
// consumers (analytics, billing, notifications).
package bus

import (
	"context"
	"time"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "answer.completed").
	Type string `json:"type"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created.
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for pipeline lifecycle events.
const (
	TopicAnswerCompleted = "advisor.answer.completed"
	TopicAnswerFailed    = "advisor.answer.failed"
)

// AnswerPayload is the payload published on answer topics.
type AnswerPayload struct {
	TraceID             string  `json:"trace_id"`
	UserID              string  `json:"user_id"`
	ConversationID      string  `json:"conversation_id"`
	Specialist          string  `json:"specialist"`
	GroundingConfidence string  `json:"grounding_confidence"`
	TotalMs             int64   `json:"total_ms"`
	UsedFallbackModel   bool    `json:"used_fallback_model"`
	ToolUsed            bool    `json:"tool_used"`
	ErrorCode           string  `json:"error_code,omitempty"`
	RoutingConfidence   float64 `json:"routing_confidence"`
}

// NewAnswerEvent builds an event for the given topic and payload.
func NewAnswerEvent(eventType string, payload AnswerPayload) Event {
	return Event{
		ID:        payload.TraceID,
		Type:      eventType,
		Source:    "advisor",
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}
