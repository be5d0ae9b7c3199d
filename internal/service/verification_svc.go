package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

const (
	publishTimeout      = 5 * time.Second
	markTimeout         = 2 * time.Second
	DefaultUserVotePage = 20
	MaxUserVotePage     = 100
)

// SubmitResult is the outcome of one vote submission.
type SubmitResult struct {
	Vote       *model.Vote
	Created    bool
	Tally      model.VoteTally
	Status     model.VerificationStatus
	Transition *model.StatusTransitionEvent
}

// VerificationService applies votes and detects status transitions. Every
// submission on a content item runs inside that item's unit of work, so the
// before and after statuses are computed against a consistent snapshot.
type VerificationService struct {
	store     repository.VoteStore
	outbox    repository.OutboxStore
	publisher events.Publisher
	metrics   *metrics.Collectors
	now       func() time.Time
}

func NewVerificationService(store repository.VoteStore, outbox repository.OutboxStore, pub events.Publisher, m *metrics.Collectors) *VerificationService {
	return &VerificationService{
		store:     store,
		outbox:    outbox,
		publisher: pub,
		metrics:   m,
		now:       time.Now,
	}
}

// Submit records a vote and, if the computed status changed, writes a
// transition to the outbox in the same unit of work. The transition is then
// published best-effort; a publish failure is left to the outbox sweeper and
// never fails the submission.
func (s *VerificationService) Submit(ctx context.Context, in model.VoteInput) (*SubmitResult, error) {
	in.ContentID = strings.TrimSpace(in.ContentID)
	in.UserID = strings.TrimSpace(in.UserID)
	vt, err := model.ParseVoteType(string(in.VoteType))
	if err != nil {
		return nil, err
	}
	in.VoteType = vt
	if err := in.Validate(); err != nil {
		return nil, err
	}

	start := s.now()
	res, env, err := s.apply(ctx, in)
	if errors.Is(err, model.ErrConflict) {
		log.Debug().Str("content_id", in.ContentID).Msg("verification: vote conflict, retrying as update")
		res, env, err = s.apply(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveSubmit(s.now().Sub(start).Seconds())
	s.metrics.Vote(string(vt), res.Created)

	if res.Transition != nil {
		t := res.Transition
		s.metrics.Transition(string(t.OldStatus), string(t.NewStatus))
		log.Info().
			Str("content_id", t.ContentID).
			Str("event_id", t.EventID.String()).
			Str("old_status", string(t.OldStatus)).
			Str("new_status", string(t.NewStatus)).
			Msg("verification: status transition")

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := PublishOutboxEntry(pubCtx, s.publisher, s.outbox, env, "inline", s.metrics); err != nil {
			log.Warn().Err(err).
				Str("content_id", t.ContentID).
				Str("event_id", t.EventID.String()).
				Msg("verification: transition publish deferred to outbox sweeper")
		}
	}
	return res, nil
}

// apply runs steps (a)-(d) of a submission inside the content's unit of work.
func (s *VerificationService) apply(ctx context.Context, in model.VoteInput) (*SubmitResult, model.Envelope, error) {
	var (
		res *SubmitResult
		env model.Envelope
	)
	err := s.store.InContent(ctx, in.ContentID, func(tx repository.VoteTx) error {
		before, err := tx.Votes(ctx)
		if err != nil {
			return err
		}
		oldStatus := DeriveStatus(Tally(before))

		vote, created, err := tx.Upsert(ctx, in)
		if err != nil {
			return err
		}

		after, err := tx.Votes(ctx)
		if err != nil {
			return err
		}
		tally := Tally(after)
		newStatus := DeriveStatus(tally)

		res = &SubmitResult{Vote: vote, Created: created, Tally: tally, Status: newStatus}
		if newStatus == oldStatus {
			return nil
		}

		evt := model.StatusTransitionEvent{
			EventID:   uuid.New(),
			ContentID: in.ContentID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Trigger:   model.TriggerCommunityConsensus,
			Timestamp: s.now().UTC(),
		}
		env, err = evt.Envelope()
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, env); err != nil {
			return err
		}
		res.Transition = &evt
		return nil
	})
	if err != nil {
		return nil, model.Envelope{}, err
	}
	return res, env, nil
}

// GetResults recomputes the tally and status from the current votes.
func (s *VerificationService) GetResults(ctx context.Context, contentID string) (*model.ResultsResponse, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, fmt.Errorf("%w: content_id is required", model.ErrValidation)
	}
	tally, err := NewAggregator(s.store).ComputeTally(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return model.NewResultsResponse(contentID, tally, DeriveStatus(tally)), nil
}

// GetVote returns a user's vote on a content item, or model.ErrNotFound.
func (s *VerificationService) GetVote(ctx context.Context, userID, contentID string) (*model.Vote, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(contentID) == "" {
		return nil, fmt.Errorf("%w: user_id and content_id are required", model.ErrValidation)
	}
	return s.store.GetVote(ctx, userID, contentID)
}

// ListUserVotes pages through a user's votes, most recently updated first.
func (s *VerificationService) ListUserVotes(ctx context.Context, userID string, limit, offset int) ([]model.Vote, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultUserVotePage
	}
	if limit > MaxUserVotePage {
		limit = MaxUserVotePage
	}
	if offset < 0 {
		offset = 0
	}
	votes, err := s.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if votes == nil {
		votes = []model.Vote{}
	}
	return votes, nil
}

// PublishOutboxEntry publishes env and records the attempt on its outbox row.
func PublishOutboxEntry(ctx context.Context, pub events.Publisher, outbox repository.OutboxStore, env model.Envelope, stage string, m *metrics.Collectors) error {
	err := pub.Publish(ctx, env)
	m.Publish(stage, err)

	// The publish may have used up ctx; the bookkeeping gets its own budget.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err != nil {
		if markErr := outbox.MarkFailed(markCtx, env.EventID, err.Error()); markErr != nil {
			log.Warn().Err(markErr).Str("event_id", env.EventID.String()).Msg("outbox: record failed attempt")
		}
		return fmt.Errorf("%w: %v", model.ErrPublish, err)
	}
	// A failed mark only means the sweeper publishes the entry again.
	if err := outbox.MarkPublished(markCtx, env.EventID); err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID.String()).Msg("outbox: mark published")
	}
	return nil
}
