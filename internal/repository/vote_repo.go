package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/pkg/hash"
)

// OutboxChannel is the NOTIFY channel signalled when a transition is enqueued.
const OutboxChannel = "status_outbox"

type VoteRepo struct {
	pool *pgxpool.Pool
}

func NewVoteRepo(pool *pgxpool.Pool) *VoteRepo {
	return &VoteRepo{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const voteColumns = `id, content_id, user_id, vote_type, reasoning, voted_at, updated_at`

// upsertVoteSQL is the single atomic write path for votes. xmax = 0 only for
// a freshly inserted row.
const upsertVoteSQL = `
	INSERT INTO votes (id, content_id, user_id, vote_type, reasoning)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (content_id, user_id) DO UPDATE
	SET vote_type = EXCLUDED.vote_type, reasoning = EXCLUDED.reasoning, updated_at = NOW()
	RETURNING ` + voteColumns + `, (xmax = 0) AS inserted`

// SubmitVote inserts or updates the caller's vote in one statement.
func (r *VoteRepo) SubmitVote(ctx context.Context, in model.VoteInput) (*model.Vote, error) {
	v, _, err := upsertVote(ctx, r.pool, in)
	return v, wrapErr("submit vote", err)
}

// GetVotes returns every vote on a content item, in no particular order.
func (r *VoteRepo) GetVotes(ctx context.Context, contentID string) ([]model.Vote, error) {
	votes, err := queryVotes(ctx, r.pool, `
		SELECT `+voteColumns+` FROM votes WHERE content_id = $1`, contentID)
	return votes, wrapErr("get votes", err)
}

// GetVote returns a single user's vote on a content item.
func (r *VoteRepo) GetVote(ctx context.Context, userID, contentID string) (*model.Vote, error) {
	v, err := scanVote(r.pool.QueryRow(ctx, `
		SELECT `+voteColumns+` FROM votes WHERE content_id = $1 AND user_id = $2`,
		contentID, userID))
	if err != nil {
		return nil, wrapErr("get vote", err)
	}
	return v, nil
}

// ListByUser returns a user's votes, most recently updated first.
func (r *VoteRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Vote, error) {
	votes, err := queryVotes(ctx, r.pool, `
		SELECT `+voteColumns+` FROM votes WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	return votes, wrapErr("list user votes", err)
}

// InContent runs fn in a transaction holding an advisory lock on contentID,
// so concurrent submissions on the same content serialize across instances.
func (r *VoteRepo) InContent(ctx context.Context, contentID string, fn func(tx VoteTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hash.AdvisoryKey(contentID)); err != nil {
		return wrapErr("lock content", err)
	}

	if err := fn(&pgVoteTx{tx: tx, contentID: contentID}); err != nil {
		return wrapErr("content unit", err)
	}

	return wrapErr("commit", tx.Commit(ctx))
}

type pgVoteTx struct {
	tx        pgx.Tx
	contentID string
}

func (t *pgVoteTx) Votes(ctx context.Context) ([]model.Vote, error) {
	return queryVotes(ctx, t.tx, `
		SELECT `+voteColumns+` FROM votes WHERE content_id = $1`, t.contentID)
}

func (t *pgVoteTx) Upsert(ctx context.Context, in model.VoteInput) (*model.Vote, bool, error) {
	in.ContentID = t.contentID
	return upsertVote(ctx, t.tx, in)
}

// Enqueue writes the envelope to the outbox. The NOTIFY is delivered only if
// the surrounding transaction commits.
func (t *pgVoteTx) Enqueue(ctx context.Context, env model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO status_outbox (id, content_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		env.EventID, env.ContentID, env.EventType, body)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, OutboxChannel, env.EventID.String())
	return err
}

func upsertVote(ctx context.Context, q querier, in model.VoteInput) (*model.Vote, bool, error) {
	var (
		v        model.Vote
		voteType string
		inserted bool
	)
	err := q.QueryRow(ctx, upsertVoteSQL,
		uuid.New(), in.ContentID, in.UserID, string(in.VoteType), in.Reasoning,
	).Scan(&v.ID, &v.ContentID, &v.UserID, &voteType, &v.Reasoning, &v.VotedAt, &v.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, err
	}
	v.VoteType = model.VoteType(voteType)
	return &v, inserted, nil
}

func queryVotes(ctx context.Context, q querier, sql string, args ...any) ([]model.Vote, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []model.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, *v)
	}
	return votes, rows.Err()
}

func scanVote(row pgx.Row) (*model.Vote, error) {
	var (
		v        model.Vote
		voteType string
	)
	if err := row.Scan(&v.ID, &v.ContentID, &v.UserID, &voteType, &v.Reasoning, &v.VotedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.VoteType = model.VoteType(voteType)
	return &v, nil
}
