package consumer

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/contentsvc"
	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/model"
)

// ContentStatus pushes every transition to the Content component, which owns
// the durable status field.
type ContentStatus struct {
	updater contentsvc.StatusUpdater
}

func NewContentStatus(updater contentsvc.StatusUpdater) *ContentStatus {
	return &ContentStatus{updater: updater}
}

func (c *ContentStatus) Name() string { return "content-status" }

func (c *ContentStatus) Subscription() events.Subscription {
	return events.Subscription{Queue: QueueContentStatus, Bindings: []string{events.KeyStatusTransitioned}}
}

func (c *ContentStatus) Handle(ctx context.Context, env model.Envelope) error {
	evt, err := model.DecodeStatusTransition(env)
	if err != nil {
		return err
	}
	err = c.updater.UpdateStatus(ctx, contentsvc.StatusUpdate{
		ContentID: evt.ContentID,
		Status:    evt.NewStatus,
		Trigger:   evt.Trigger,
		EventID:   evt.EventID.String(),
		ChangedAt: evt.Timestamp,
	})
	if errors.Is(err, model.ErrNotFound) {
		log.Warn().Str("content_id", evt.ContentID).Msg("content-status: content no longer exists, dropping update")
		return nil
	}
	return err
}
