package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

func vote(userID string, vt model.VoteType) model.VoteInput {
	return model.VoteInput{UserID: userID, ContentID: "c1", VoteType: vt}
}

func TestSubmitVote_UpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.SubmitVote(ctx, vote("u1", model.VoteAuthentic))
	require.NoError(t, err)
	second, err := s.SubmitVote(ctx, vote("u1", model.VoteFalse))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "resubmission must update in place")
	assert.Equal(t, first.VotedAt, second.VotedAt)

	votes, err := s.GetVotes(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, model.VoteFalse, votes[0].VoteType)
}

func TestGetVote_NotFound(t *testing.T) {
	_, err := New().GetVote(context.Background(), "u1", "c1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInContent_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.InContent(ctx, "c1", func(tx repository.VoteTx) error {
		_, _, err := tx.Upsert(ctx, vote("u1", model.VoteAuthentic))
		require.NoError(t, err)
		env, err := model.NewEnvelope(uuid.New(), model.EventStatusTransitioned, "c1", time.Now(), struct{}{})
		require.NoError(t, err)
		require.NoError(t, tx.Enqueue(ctx, env))
		return boom
	})
	require.ErrorIs(t, err, boom)

	votes, err := s.GetVotes(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, votes)
	assert.Empty(t, s.Outbox())
}

func TestInContent_StagedVotesVisibleInsideUnit(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.SubmitVote(ctx, vote("u1", model.VoteAuthentic))
	require.NoError(t, err)

	err = s.InContent(ctx, "c1", func(tx repository.VoteTx) error {
		_, created, err := tx.Upsert(ctx, vote("u1", model.VoteUnsure))
		require.NoError(t, err)
		assert.False(t, created)
		_, created, err = tx.Upsert(ctx, vote("u2", model.VoteFalse))
		require.NoError(t, err)
		assert.True(t, created)

		votes, err := tx.Votes(ctx)
		require.NoError(t, err)
		assert.Len(t, votes, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestConcurrentFirstVotes_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SubmitVote(ctx, vote(fmt.Sprintf("user-%d", i), model.VoteAuthentic))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	votes, err := s.GetVotes(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, votes, n)
}

func TestOutbox_PendingAndMarks(t *testing.T) {
	ctx := context.Background()
	s := New()
	env, err := model.NewEnvelope(uuid.New(), model.EventStatusTransitioned, "c1", time.Now(), struct{}{})
	require.NoError(t, err)

	require.NoError(t, s.InContent(ctx, "c1", func(tx repository.VoteTx) error {
		return tx.Enqueue(ctx, env)
	}))

	pending, err := s.PendingOutbox(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, env.EventID, pending[0].ID)

	require.NoError(t, s.MarkFailed(ctx, env.EventID, "broker down"))
	require.NoError(t, s.MarkPublished(ctx, env.EventID))

	pending, err = s.PendingOutbox(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries := s.Outbox()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Empty(t, entries[0].LastError)
}

func TestListenOutbox_WakesOnEnqueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()
	wake := make(chan struct{}, 1)
	go func() { _ = s.ListenOutbox(ctx, wake) }()

	env, err := model.NewEnvelope(uuid.New(), model.EventStatusTransitioned, "c1", time.Now(), struct{}{})
	require.NoError(t, err)
	require.NoError(t, s.InContent(ctx, "c1", func(tx repository.VoteTx) error {
		return tx.Enqueue(ctx, env)
	}))

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("expected wake signal after enqueue")
	}
}

func TestRecordFeedback_OncePerEvent(t *testing.T) {
	ctx := context.Background()
	s := New()
	fb := model.AIFeedback{EventID: uuid.New(), ContentID: "c1"}

	created, err := s.RecordFeedback(ctx, fb)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RecordFeedback(ctx, fb)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, s.Feedback(), 1)
}
