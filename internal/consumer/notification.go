package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/notify"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

// Notification alerts a content item's author when the community changes its
// status.
type Notification struct {
	seeds    repository.ContentStore
	notifier notify.Notifier
	now      func() time.Time
}

func NewNotification(seeds repository.ContentStore, notifier notify.Notifier) *Notification {
	return &Notification{seeds: seeds, notifier: notifier, now: time.Now}
}

func (n *Notification) Name() string { return "notification" }

func (n *Notification) Subscription() events.Subscription {
	return events.Subscription{Queue: QueueNotification, Bindings: []string{events.KeyStatusTransitioned}}
}

func (n *Notification) Handle(ctx context.Context, env model.Envelope) error {
	evt, err := model.DecodeStatusTransition(env)
	if err != nil {
		return err
	}
	if evt.Trigger != model.TriggerCommunityConsensus {
		return nil
	}

	seed, err := n.seeds.FindSeed(ctx, evt.ContentID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && seed.AuthorID == "") {
		log.Warn().Str("content_id", evt.ContentID).Msg("notification: author unknown, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	return n.notifier.Notify(ctx, notify.StatusChange(seed.AuthorID, evt, n.now()))
}
