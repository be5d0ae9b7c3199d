package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

// AIFeedback records community verdicts that contradict the AI pre-screen.
type AIFeedback struct {
	store repository.ContentStore
	now   func() time.Time
}

func NewAIFeedback(store repository.ContentStore) *AIFeedback {
	return &AIFeedback{store: store, now: time.Now}
}

func (a *AIFeedback) Name() string { return "ai-feedback" }

func (a *AIFeedback) Subscription() events.Subscription {
	return events.Subscription{Queue: QueueAIFeedback, Bindings: []string{events.KeyStatusTransitioned}}
}

func (a *AIFeedback) Handle(ctx context.Context, env model.Envelope) error {
	evt, err := model.DecodeStatusTransition(env)
	if err != nil {
		return err
	}
	if evt.Trigger != model.TriggerCommunityConsensus || !evt.NewStatus.IsVerdict() {
		return nil
	}

	seed, err := a.store.FindSeed(ctx, evt.ContentID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if seed.AIStatus == "" || !Disagrees(seed.AIStatus, evt.NewStatus) {
		return nil
	}

	recorded, err := a.store.RecordFeedback(ctx, model.AIFeedback{
		EventID:         evt.EventID,
		ContentID:       evt.ContentID,
		AIStatus:        seed.AIStatus,
		AIConfidence:    seed.AIConfidence,
		CommunityStatus: evt.NewStatus,
		RecordedAt:      a.now().UTC(),
	})
	if err != nil {
		return err
	}
	if recorded {
		log.Info().
			Str("content_id", evt.ContentID).
			Str("ai_status", string(seed.AIStatus)).
			Str("community_status", string(evt.NewStatus)).
			Msg("ai-feedback: disagreement recorded")
	}
	return nil
}

// Disagrees reports whether the AI pre-screen and the community verdict point
// different ways. The AI either flags an item (disputed) or leaves it to the
// community, which counts as a lean toward verified.
func Disagrees(ai, community model.VerificationStatus) bool {
	return (ai == model.StatusDisputed) != (community == model.StatusDisputed)
}
