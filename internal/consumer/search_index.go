package consumer

import (
	"context"
	"fmt"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/search"
)

// SearchIndex indexes new content and overwrites the status field on every
// transition.
type SearchIndex struct {
	index search.Indexer
}

func NewSearchIndex(index search.Indexer) *SearchIndex {
	return &SearchIndex{index: index}
}

func (s *SearchIndex) Name() string { return "search-index" }

func (s *SearchIndex) Subscription() events.Subscription {
	return events.Subscription{
		Queue:    QueueSearchIndex,
		Bindings: []string{events.KeyContentCreated, events.KeyStatusTransitioned},
	}
}

func (s *SearchIndex) Handle(ctx context.Context, env model.Envelope) error {
	switch env.EventType {
	case model.EventContentCreated:
		evt, err := model.DecodeContentCreated(env)
		if err != nil {
			return err
		}
		return s.index.IndexContent(ctx, model.SeedFromEvent(evt))

	case model.EventStatusTransitioned:
		evt, err := model.DecodeStatusTransition(env)
		if err != nil {
			return err
		}
		return s.index.UpdateStatus(ctx, evt.ContentID, evt.NewStatus, evt.Timestamp)

	default:
		return fmt.Errorf("%w: search index cannot handle %q", model.ErrValidation, env.EventType)
	}
}
