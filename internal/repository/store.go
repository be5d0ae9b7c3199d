package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// VoteTx is a unit of work scoped to one content item. Implementations hold
// an exclusive per-content lock for its lifetime; writes commit together.
type VoteTx interface {
	Votes(ctx context.Context) ([]model.Vote, error)
	Upsert(ctx context.Context, in model.VoteInput) (vote *model.Vote, created bool, err error)
	Enqueue(ctx context.Context, env model.Envelope) error
}

// VoteStore is the only writer of vote rows.
type VoteStore interface {
	SubmitVote(ctx context.Context, in model.VoteInput) (*model.Vote, error)
	GetVotes(ctx context.Context, contentID string) ([]model.Vote, error)
	GetVote(ctx context.Context, userID, contentID string) (*model.Vote, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Vote, error)
	InContent(ctx context.Context, contentID string, fn func(tx VoteTx) error) error
}

// OutboxStore tracks transition events until the bus has accepted them.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]model.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// OutboxListener wakes the sweeper when new entries are enqueued. It blocks
// until ctx is cancelled or the underlying connection fails.
type OutboxListener interface {
	ListenOutbox(ctx context.Context, wake chan<- struct{}) error
}

// ContentStore holds content seeds and AI feedback records.
type ContentStore interface {
	SaveSeed(ctx context.Context, seed model.ContentSeed) error
	FindSeed(ctx context.Context, contentID string) (*model.ContentSeed, error)
	RecordFeedback(ctx context.Context, fb model.AIFeedback) (bool, error)
}
