package model

import (
	"time"

	"github.com/google/uuid"
)

// ContentSeed is what this core knows about a content item, learned from its
// ContentCreated event and the AI pre-screen. The authoritative status field
// lives in the Content component, not here.
type ContentSeed struct {
	ContentID    string             `json:"content_id"`
	AuthorID     string             `json:"author_id"`
	Title        string             `json:"title"`
	Category     string             `json:"category"`
	SourceURL    string             `json:"source_url"`
	CreatedAt    time.Time          `json:"created_at"`
	AIStatus     VerificationStatus `json:"ai_status"`
	AIConfidence float64            `json:"ai_confidence"`
}

// SeedFromEvent builds a seed without an AI assessment.
func SeedFromEvent(evt ContentCreatedEvent) ContentSeed {
	return ContentSeed{
		ContentID: evt.ContentID,
		AuthorID:  evt.AuthorID,
		Title:     evt.Title,
		Category:  evt.Category,
		SourceURL: evt.SourceURL,
		CreatedAt: evt.CreatedAt,
	}
}

// Assessment is the AI pre-screen verdict for a new content item.
type Assessment struct {
	Status     VerificationStatus `json:"status"`
	Confidence float64            `json:"confidence"`
	Flagged    bool               `json:"flagged"`
}

// AIFeedback is a training-data record captured when the community verdict
// disagrees with the AI pre-screen.
type AIFeedback struct {
	EventID         uuid.UUID          `json:"event_id"`
	ContentID       string             `json:"content_id"`
	AIStatus        VerificationStatus `json:"ai_status"`
	AIConfidence    float64            `json:"ai_confidence"`
	CommunityStatus VerificationStatus `json:"community_status"`
	RecordedAt      time.Time          `json:"recorded_at"`
}

// DeliveryAll sends a notification on every channel the user has enabled.
const DeliveryAll = "all"

// Notification is a request to alert a user. Delivery itself is external.
type Notification struct {
	DedupeKey string         `json:"dedupe_key" bson:"dedupe_key"`
	UserID    string         `json:"user_id" bson:"user_id"`
	Type      string         `json:"type" bson:"type"`
	Title     string         `json:"title" bson:"title"`
	Message   string         `json:"message" bson:"message"`
	Data      map[string]any `json:"data" bson:"data"`
	Delivery  string         `json:"delivery" bson:"delivery"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	Read      bool           `json:"read" bson:"read"`
}
