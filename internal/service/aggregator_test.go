package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthsignal/consensus-engine/internal/model"
)

func votesOf(authentic, falseVotes, unsure int) []model.Vote {
	var votes []model.Vote
	add := func(n int, vt model.VoteType) {
		for i := 0; i < n; i++ {
			votes = append(votes, model.Vote{VoteType: vt})
		}
	}
	add(authentic, model.VoteAuthentic)
	add(falseVotes, model.VoteFalse)
	add(unsure, model.VoteUnsure)
	return votes
}

func TestTally_NoVotes(t *testing.T) {
	got := Tally(nil)
	assert.Equal(t, model.VoteTally{}, got)
}

func TestTally_CountsAndPercentages(t *testing.T) {
	tests := []struct {
		name  string
		votes []model.Vote
		want  model.VoteTally
	}{
		{
			name:  "single type",
			votes: votesOf(3, 0, 0),
			want:  model.VoteTally{Total: 3, Authentic: 3, AuthenticPct: 100},
		},
		{
			name:  "thirds round to two decimals",
			votes: votesOf(1, 1, 1),
			want: model.VoteTally{
				Total: 3, Authentic: 1, False: 1, Unsure: 1,
				AuthenticPct: 33.33, FalsePct: 33.33, UnsurePct: 33.33,
			},
		},
		{
			name:  "two thirds rounds up",
			votes: votesOf(2, 1, 0),
			want: model.VoteTally{
				Total: 3, Authentic: 2, False: 1,
				AuthenticPct: 66.67, FalsePct: 33.33,
			},
		},
		{
			name:  "55 vote mix",
			votes: votesOf(25, 10, 20),
			want: model.VoteTally{
				Total: 55, Authentic: 25, False: 10, Unsure: 20,
				AuthenticPct: 45.45, FalsePct: 18.18, UnsurePct: 36.36,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tally(tt.votes))
		})
	}
}

func TestTally_IgnoresUnknownVoteTypes(t *testing.T) {
	votes := append(votesOf(1, 0, 0), model.Vote{VoteType: "maybe"})
	got := Tally(votes)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 100.0, got.AuthenticPct)
}

type stubReader struct {
	votes []model.Vote
	err   error
}

func (s stubReader) GetVotes(context.Context, string) ([]model.Vote, error) {
	return s.votes, s.err
}

func TestAggregator_ComputeTally(t *testing.T) {
	agg := NewAggregator(stubReader{votes: votesOf(43, 7, 0)})
	got, err := agg.ComputeTally(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Total)
	assert.Equal(t, 86.0, got.AuthenticPct)
	assert.Equal(t, model.StatusVerified, DeriveStatus(got))
}

func TestAggregator_PropagatesStorageErrors(t *testing.T) {
	storageErr := errors.Join(model.ErrStorage, errors.New("connection refused"))
	agg := NewAggregator(stubReader{err: storageErr})
	_, err := agg.ComputeTally(context.Background(), "c1")
	assert.ErrorIs(t, err, model.ErrStorage)
}
