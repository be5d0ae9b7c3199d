// Package notify decides what the author of a content item is told when its
// status changes and hands the request to a delivery backend.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

const (
	TypeStatusChange  = "status_change"
	StatusChangeTitle = "Content Verification Update"
)

// Notifier delivers a notification. Delivering the same DedupeKey twice is
// a no-op.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// StatusChange builds the author alert for a status transition.
func StatusChange(authorID string, evt model.StatusTransitionEvent, now time.Time) model.Notification {
	return model.Notification{
		DedupeKey: fmt.Sprintf("%s:%s", TypeStatusChange, evt.EventID),
		UserID:    authorID,
		Type:      TypeStatusChange,
		Title:     StatusChangeTitle,
		Message:   fmt.Sprintf("Your content status changed from '%s' to '%s'", evt.OldStatus, evt.NewStatus),
		Data: map[string]any{
			"content_id": evt.ContentID,
			"old_status": string(evt.OldStatus),
			"new_status": string(evt.NewStatus),
			"trigger":    evt.Trigger,
		},
		Delivery:  model.DeliveryAll,
		CreatedAt: now.UTC(),
	}
}

// LogNotifier writes notifications to the log. Used when no inbox is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) error {
	log.Info().
		Str("user_id", n.UserID).
		Str("type", n.Type).
		Str("dedupe_key", n.DedupeKey).
		Str("delivery", n.Delivery).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}
