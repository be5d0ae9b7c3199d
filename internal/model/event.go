package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type tags carried in every envelope.
const (
	EventContentCreated     = "ContentCreated"
	EventStatusTransitioned = "StatusTransitioned"
)

// Transition triggers.
const (
	TriggerCommunityConsensus = "community_consensus"
	TriggerAIPrescreen        = "ai_prescreen"
)

// Envelope is the wire format for every message on the event bus.
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	ContentID  string          `json:"content_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(eventID uuid.UUID, eventType, contentID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:    eventID,
		EventType:  eventType,
		ContentID:  contentID,
		OccurredAt: at.UTC(),
		Payload:    b,
	}, nil
}

// StatusTransitionEvent records a change in computed verification status.
type StatusTransitionEvent struct {
	EventID   uuid.UUID          `json:"event_id"`
	ContentID string             `json:"content_id"`
	OldStatus VerificationStatus `json:"old_status"`
	NewStatus VerificationStatus `json:"new_status"`
	Trigger   string             `json:"trigger"`
	Timestamp time.Time          `json:"timestamp"`
}

// Envelope wraps the transition for publishing.
func (e StatusTransitionEvent) Envelope() (Envelope, error) {
	return NewEnvelope(e.EventID, EventStatusTransitioned, e.ContentID, e.Timestamp, e)
}

// ContentCreatedEvent is published by the Content component when an item is
// submitted.
type ContentCreatedEvent struct {
	ContentID string    `json:"content_id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	SourceURL string    `json:"source_url"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeStatusTransition extracts a transition from an envelope.
func DecodeStatusTransition(env Envelope) (StatusTransitionEvent, error) {
	var evt StatusTransitionEvent
	if env.EventType != EventStatusTransitioned {
		return evt, fmt.Errorf("%w: expected %s, got %s", ErrValidation, EventStatusTransitioned, env.EventType)
	}
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return evt, fmt.Errorf("%w: decode transition: %v", ErrValidation, err)
	}
	if evt.ContentID == "" || !evt.NewStatus.Valid() {
		return evt, fmt.Errorf("%w: transition missing content_id or new_status", ErrValidation)
	}
	if evt.EventID == uuid.Nil {
		evt.EventID = env.EventID
	}
	return evt, nil
}

// DecodeContentCreated extracts a ContentCreated payload from an envelope.
func DecodeContentCreated(env Envelope) (ContentCreatedEvent, error) {
	var evt ContentCreatedEvent
	if env.EventType != EventContentCreated {
		return evt, fmt.Errorf("%w: expected %s, got %s", ErrValidation, EventContentCreated, env.EventType)
	}
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return evt, fmt.Errorf("%w: decode content created: %v", ErrValidation, err)
	}
	if evt.ContentID == "" {
		evt.ContentID = env.ContentID
	}
	if evt.ContentID == "" {
		return evt, fmt.Errorf("%w: content created missing content_id", ErrValidation)
	}
	return evt, nil
}

// OutboxEntry is a transition event waiting to be (re)published.
type OutboxEntry struct {
	ID          uuid.UUID  `json:"id"`
	ContentID   string     `json:"content_id"`
	Envelope    Envelope   `json:"envelope"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
}
