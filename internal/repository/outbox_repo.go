package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

// PendingOutbox returns unpublished entries created before olderThan, oldest
// first. Two sweepers may pick the same entry; consumers dedupe on event_id.
func (r *OutboxRepo) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]model.OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, content_id, payload, created_at, attempts, COALESCE(last_error, '')
		FROM status_outbox
		WHERE published_at IS NULL AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, wrapErr("pending outbox", err)
	}
	defer rows.Close()

	var entries []model.OutboxEntry
	for rows.Next() {
		var (
			e       model.OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.ContentID, &payload, &e.CreatedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, wrapErr("scan outbox", err)
		}
		if err := json.Unmarshal(payload, &e.Envelope); err != nil {
			log.Warn().Err(err).Str("outbox_id", e.ID.String()).Msg("outbox: undecodable payload, skipping")
			continue
		}
		entries = append(entries, e)
	}
	return entries, wrapErr("pending outbox", rows.Err())
}

// MarkPublished records that the bus accepted the entry.
func (r *OutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE status_outbox SET published_at = NOW(), attempts = attempts + 1, last_error = NULL
		WHERE id = $1 AND published_at IS NULL`, id)
	return wrapErr("mark published", err)
}

// MarkFailed records a failed publish attempt.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE status_outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND published_at IS NULL`, id, reason)
	return wrapErr("mark failed", err)
}

// ListenOutbox acquires a dedicated connection, LISTENs on the outbox channel
// and signals wake for each notification. Signals are coalesced.
func (r *OutboxRepo) ListenOutbox(ctx context.Context, wake chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+OutboxChannel); err != nil {
		return err
	}
	log.Info().Str("channel", OutboxChannel).Msg("outbox: listening")

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
