package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthsignal/consensus-engine/internal/model"
)

type ContentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool}
}

// SaveSeed upserts the seed for a content item. Redelivered ContentCreated
// events overwrite the same row.
func (r *ContentRepo) SaveSeed(ctx context.Context, seed model.ContentSeed) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO content_seeds (content_id, author_id, title, category, source_url, created_at, ai_status, ai_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_id) DO UPDATE
		SET author_id = EXCLUDED.author_id, title = EXCLUDED.title, category = EXCLUDED.category,
		    source_url = EXCLUDED.source_url, ai_status = EXCLUDED.ai_status,
		    ai_confidence = EXCLUDED.ai_confidence, seeded_at = NOW()`,
		seed.ContentID, seed.AuthorID, seed.Title, seed.Category, seed.SourceURL,
		seed.CreatedAt, string(seed.AIStatus), seed.AIConfidence)
	return wrapErr("save seed", err)
}

// FindSeed returns the seed for a content item.
func (r *ContentRepo) FindSeed(ctx context.Context, contentID string) (*model.ContentSeed, error) {
	var (
		s        model.ContentSeed
		aiStatus string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT content_id, author_id, title, category, source_url, created_at, ai_status, ai_confidence
		FROM content_seeds
		WHERE content_id = $1`, contentID).Scan(
		&s.ContentID, &s.AuthorID, &s.Title, &s.Category, &s.SourceURL,
		&s.CreatedAt, &aiStatus, &s.AIConfidence,
	)
	if err != nil {
		return nil, wrapErr("find seed", err)
	}
	s.AIStatus = model.VerificationStatus(aiStatus)
	return &s, nil
}

// RecordFeedback stores an AI/community disagreement once per event. It
// reports whether a new row was written.
func (r *ContentRepo) RecordFeedback(ctx context.Context, fb model.AIFeedback) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO ai_feedback (event_id, content_id, ai_status, ai_confidence, community_status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		fb.EventID, fb.ContentID, string(fb.AIStatus), fb.AIConfidence, string(fb.CommunityStatus), fb.RecordedAt)
	if err != nil {
		return false, wrapErr("record feedback", err)
	}
	return tag.RowsAffected() == 1, nil
}
