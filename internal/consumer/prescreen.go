package consumer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/prescreen"
	"github.com/truthsignal/consensus-engine/internal/repository"
	"github.com/truthsignal/consensus-engine/internal/search"
)

// prescreenNamespace derives the transition event id from the ContentCreated
// event id, so a redelivered ContentCreated republishes the same event.
var prescreenNamespace = uuid.MustParse("3d0f6c1e-2a4b-4f8e-9c71-5b2e8d9a0f13")

// Prescreen runs the AI pre-screen on new content, stores the seed, writes
// the verdict to the search index and, when the item is flagged, publishes
// its initial disputed status.
type Prescreen struct {
	screener prescreen.Prescreener
	seeds    repository.ContentStore
	index    search.Indexer
	pub      events.Publisher
	now      func() time.Time
}

func NewPrescreen(screener prescreen.Prescreener, seeds repository.ContentStore, index search.Indexer, pub events.Publisher) *Prescreen {
	return &Prescreen{screener: screener, seeds: seeds, index: index, pub: pub, now: time.Now}
}

func (p *Prescreen) Name() string { return "prescreen" }

func (p *Prescreen) Subscription() events.Subscription {
	return events.Subscription{Queue: QueuePrescreen, Bindings: []string{events.KeyContentCreated}}
}

func (p *Prescreen) Handle(ctx context.Context, env model.Envelope) error {
	evt, err := model.DecodeContentCreated(env)
	if err != nil {
		return err
	}

	seed := model.SeedFromEvent(evt)
	assessment, err := p.screener.Assess(ctx, seed)
	if err != nil {
		return err
	}
	seed.AIStatus = assessment.Status
	seed.AIConfidence = assessment.Confidence

	if err := p.seeds.SaveSeed(ctx, seed); err != nil {
		return err
	}
	if err := p.index.SetAssessment(ctx, seed.ContentID, assessment); err != nil {
		return err
	}
	log.Info().
		Str("content_id", seed.ContentID).
		Bool("flagged", assessment.Flagged).
		Float64("confidence", assessment.Confidence).
		Msg("prescreen: assessed")

	if !assessment.Flagged || assessment.Status == model.StatusPending {
		return nil
	}

	initial := model.StatusTransitionEvent{
		EventID:   uuid.NewSHA1(prescreenNamespace, env.EventID[:]),
		ContentID: seed.ContentID,
		OldStatus: model.StatusPending,
		NewStatus: assessment.Status,
		Trigger:   model.TriggerAIPrescreen,
		Timestamp: p.now().UTC(),
	}
	out, err := initial.Envelope()
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, out)
}
