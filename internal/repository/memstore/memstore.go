// Package memstore is an in-process implementation of the repository
// interfaces with the same locking and upsert semantics as Postgres. It backs
// STORAGE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

type voteKey struct {
	contentID string
	userID    string
}

type Store struct {
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	mu       sync.RWMutex
	votes    map[voteKey]model.Vote
	outbox   map[uuid.UUID]*model.OutboxEntry
	seeds    map[string]model.ContentSeed
	feedback map[uuid.UUID]model.AIFeedback

	wake chan struct{}
	now  func() time.Time
}

func New() *Store {
	return &Store{
		locks:    make(map[string]*sync.Mutex),
		votes:    make(map[voteKey]model.Vote),
		outbox:   make(map[uuid.UUID]*model.OutboxEntry),
		seeds:    make(map[string]model.ContentSeed),
		feedback: make(map[uuid.UUID]model.AIFeedback),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (s *Store) contentLock(contentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.locks[contentID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[contentID] = m
	}
	return m
}

// SubmitVote upserts a vote under the content's lock.
func (s *Store) SubmitVote(ctx context.Context, in model.VoteInput) (*model.Vote, error) {
	var out *model.Vote
	err := s.InContent(ctx, in.ContentID, func(tx repository.VoteTx) error {
		v, _, err := tx.Upsert(ctx, in)
		out = v
		return err
	})
	return out, err
}

func (s *Store) GetVotes(ctx context.Context, contentID string) ([]model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get votes: %w: %v", model.ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var votes []model.Vote
	for k, v := range s.votes {
		if k.contentID == contentID {
			votes = append(votes, v)
		}
	}
	return votes, nil
}

func (s *Store) GetVote(ctx context.Context, userID, contentID string) (*model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get vote: %w: %v", model.ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey{contentID: contentID, userID: userID}]
	if !ok {
		return nil, fmt.Errorf("get vote: %w", model.ErrNotFound)
	}
	return &v, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list user votes: %w: %v", model.ErrStorage, err)
	}
	s.mu.RLock()
	var votes []model.Vote
	for k, v := range s.votes {
		if k.userID == userID {
			votes = append(votes, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(votes, func(i, j int) bool { return votes[i].UpdatedAt.After(votes[j].UpdatedAt) })
	if offset >= len(votes) {
		return nil, nil
	}
	votes = votes[offset:]
	if limit > 0 && limit < len(votes) {
		votes = votes[:limit]
	}
	return votes, nil
}

// InContent serializes fn against every other unit of work on contentID.
// Writes are staged and only applied when fn returns nil.
func (s *Store) InContent(ctx context.Context, contentID string, fn func(tx repository.VoteTx) error) error {
	lock := s.contentLock(contentID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("content unit: %w: %v", model.ErrStorage, err)
	}

	tx := &memTx{store: s, contentID: contentID, staged: make(map[string]model.Vote)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store     *Store
	contentID string
	staged    map[string]model.Vote
	enqueued  []model.Envelope
}

func (t *memTx) Votes(ctx context.Context) ([]model.Vote, error) {
	votes, err := t.store.GetVotes(ctx, t.contentID)
	if err != nil {
		return nil, err
	}
	if len(t.staged) == 0 {
		return votes, nil
	}
	out := make([]model.Vote, 0, len(votes)+len(t.staged))
	for _, v := range votes {
		if _, ok := t.staged[v.UserID]; !ok {
			out = append(out, v)
		}
	}
	for _, v := range t.staged {
		out = append(out, v)
	}
	return out, nil
}

func (t *memTx) Upsert(ctx context.Context, in model.VoteInput) (*model.Vote, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("upsert vote: %w: %v", model.ErrStorage, err)
	}
	now := t.store.now().UTC()

	existing, ok := t.staged[in.UserID]
	if !ok {
		t.store.mu.RLock()
		existing, ok = t.store.votes[voteKey{contentID: t.contentID, userID: in.UserID}]
		t.store.mu.RUnlock()
	}

	v := model.Vote{
		ID:        uuid.New(),
		ContentID: t.contentID,
		UserID:    in.UserID,
		VoteType:  in.VoteType,
		Reasoning: in.Reasoning,
		VotedAt:   now,
		UpdatedAt: now,
	}
	if ok {
		v.ID = existing.ID
		v.VotedAt = existing.VotedAt
	}
	t.staged[in.UserID] = v
	return &v, !ok, nil
}

func (t *memTx) Enqueue(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue: %w: %v", model.ErrStorage, err)
	}
	t.enqueued = append(t.enqueued, env)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	for userID, v := range t.staged {
		s.votes[voteKey{contentID: t.contentID, userID: userID}] = v
	}
	for _, env := range t.enqueued {
		s.outbox[env.EventID] = &model.OutboxEntry{
			ID:        env.EventID,
			ContentID: env.ContentID,
			Envelope:  env,
			CreatedAt: s.now().UTC(),
		}
	}
	s.mu.Unlock()

	if len(t.enqueued) > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Store) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]model.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pending outbox: %w: %v", model.ErrStorage, err)
	}
	s.mu.RLock()
	var entries []model.OutboxEntry
	for _, e := range s.outbox {
		if e.PublishedAt == nil && !e.CreatedAt.After(olderThan) {
			entries = append(entries, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) MarkPublished(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("mark published: %w", model.ErrNotFound)
	}
	if e.PublishedAt == nil {
		now := s.now().UTC()
		e.PublishedAt = &now
		e.Attempts++
		e.LastError = ""
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("mark failed: %w", model.ErrNotFound)
	}
	if e.PublishedAt == nil {
		e.Attempts++
		e.LastError = reason
	}
	return nil
}

// Outbox returns a snapshot of every outbox entry.
func (s *Store) Outbox() []model.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEntry, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, *e)
	}
	return out
}

// ListenOutbox signals wake whenever a unit of work enqueues an entry.
func (s *Store) ListenOutbox(ctx context.Context, wake chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Store) SaveSeed(ctx context.Context, seed model.ContentSeed) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save seed: %w: %v", model.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds[seed.ContentID] = seed
	return nil
}

func (s *Store) FindSeed(ctx context.Context, contentID string) (*model.ContentSeed, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find seed: %w: %v", model.ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seed, ok := s.seeds[contentID]
	if !ok {
		return nil, fmt.Errorf("find seed: %w", model.ErrNotFound)
	}
	return &seed, nil
}

func (s *Store) RecordFeedback(ctx context.Context, fb model.AIFeedback) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("record feedback: %w: %v", model.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feedback[fb.EventID]; ok {
		return false, nil
	}
	s.feedback[fb.EventID] = fb
	return true, nil
}

// Feedback returns a snapshot of recorded AI feedback.
func (s *Store) Feedback() []model.AIFeedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AIFeedback, 0, len(s.feedback))
	for _, fb := range s.feedback {
		out = append(out, fb)
	}
	return out
}
