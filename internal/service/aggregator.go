package service

import (
	"context"
	"math"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// VoteReader is the read side of the Vote Store.
type VoteReader interface {
	GetVotes(ctx context.Context, contentID string) ([]model.Vote, error)
}

// Aggregator recomputes vote tallies from the Vote Store on every read.
// Nothing is cached or counted incrementally.
type Aggregator struct {
	votes VoteReader
}

func NewAggregator(votes VoteReader) *Aggregator {
	return &Aggregator{votes: votes}
}

// ComputeTally counts the current votes for a content item.
func (a *Aggregator) ComputeTally(ctx context.Context, contentID string) (model.VoteTally, error) {
	votes, err := a.votes.GetVotes(ctx, contentID)
	if err != nil {
		return model.VoteTally{}, err
	}
	return Tally(votes), nil
}

// Tally counts votes by type. The algorithm:
//
//	pct(type) = round(count(type) / total * 100, 2), or 0 when total = 0
func Tally(votes []model.Vote) model.VoteTally {
	var t model.VoteTally
	for _, v := range votes {
		switch v.VoteType {
		case model.VoteAuthentic:
			t.Authentic++
		case model.VoteFalse:
			t.False++
		case model.VoteUnsure:
			t.Unsure++
		default:
			continue
		}
	}
	t.Total = t.Authentic + t.False + t.Unsure

	if t.Total == 0 {
		return t
	}
	t.AuthenticPct = percent(t.Authentic, t.Total)
	t.FalsePct = percent(t.False, t.Total)
	t.UnsurePct = percent(t.Unsure, t.Total)
	return t
}

func percent(count, total int) float64 {
	return math.Round(float64(count)/float64(total)*100*100) / 100
}
