// Package ledger records which challenge completions have been credited so
// a reward is never granted twice within one window instance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"savebuddy/internal/core"
)

// ErrInFlight is returned when the same (user, challenge, period) is already
// being persisted.
var ErrInFlight = errors.New("completion already in flight")

// Store persists completions. RecordCompletion must be a no-op reporting
// false when an unexpired completion for the same user, challenge and
// period exists.
type Store interface {
	IsCompleted(ctx context.Context, userID int64, challengeID string, period core.Period, now time.Time) (bool, error)
	RecordCompletion(ctx context.Context, rec core.CompletionRecord) (bool, error)
	ListCompletions(ctx context.Context, userID int64, now time.Time) ([]core.CompletionRecord, error)
}

// PendingStore is a local store that also tracks whether the server has
// acknowledged each completion.
type PendingStore interface {
	Store
	GetCompletion(ctx context.Context, id string) (core.CompletionRecord, error)
	PendingCompletions(ctx context.Context, limit int) ([]core.CompletionRecord, error)
	MarkSynced(ctx context.Context, id string) error
	MarkSyncError(ctx context.Context, id string) error
}

// Syncer pushes a local completion to the server.
type Syncer interface {
	Push(ctx context.Context, rec core.CompletionRecord) error
}

// Publisher hands a completion to the background sync worker.
type Publisher interface {
	PublishCompletionSync(ctx context.Context, rec core.CompletionRecord) error
}

type inflightKey struct {
	userID      int64
	challengeID string
	period      core.Period
}

type Ledger struct {
	store     Store
	syncer    Syncer
	publisher Publisher

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
}

type Option func(*Ledger)

// WithSyncer pushes new completions to the server inline.
func WithSyncer(s Syncer) Option {
	return func(l *Ledger) { l.syncer = s }
}

// WithPublisher defers the server push to the sync worker.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		inflight: make(map[inflightKey]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) acquire(k inflightKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inflight[k]; busy {
		return false
	}
	l.inflight[k] = struct{}{}
	return true
}

func (l *Ledger) release(k inflightKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, k)
}

// InFlight reports whether a completion for the key is being persisted.
func (l *Ledger) InFlight(userID int64, challengeID string, period core.Period) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.inflight[inflightKey{userID, challengeID, period}]
	return busy
}

func (l *Ledger) IsCompleted(ctx context.Context, userID int64, challengeID string, period core.Period, now time.Time) (bool, error) {
	return l.store.IsCompleted(ctx, userID, challengeID, period, now)
}

func (l *Ledger) ListCompletions(ctx context.Context, userID int64, now time.Time) ([]core.CompletionRecord, error) {
	return l.store.ListCompletions(ctx, userID, now)
}

// RecordCompletion persists rec and reports whether it was new. The key is
// held in the in-flight map until the write and any inline server push have
// settled, whatever the outcome.
func (l *Ledger) RecordCompletion(ctx context.Context, rec core.CompletionRecord) (bool, error) {
	if rec.ChallengeID == "" {
		return false, core.ErrEmptyChallenge
	}
	if !rec.Period.Valid() {
		return false, fmt.Errorf("%w: %q", core.ErrInvalidPeriod, rec.Period)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	if rec.Instance == "" {
		rec.Instance = core.InstanceKey(rec.CompletedAt)
	}

	k := inflightKey{rec.UserID, rec.ChallengeID, rec.Period}
	if !l.acquire(k) {
		return false, ErrInFlight
	}
	defer l.release(k)

	created, err := l.store.RecordCompletion(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("record completion %s: %w", rec.ChallengeID, err)
	}
	if !created {
		return false, nil
	}

	l.sync(ctx, rec)
	return true, nil
}

// sync forwards a new local completion to the server. Failures keep the
// completion pending; it is retried by RetryPending.
func (l *Ledger) sync(ctx context.Context, rec core.CompletionRecord) {
	pending, ok := l.store.(PendingStore)
	if !ok {
		return
	}

	if l.publisher != nil {
		err := l.publisher.PublishCompletionSync(ctx, rec)
		if err == nil {
			return
		}
		slog.WarnContext(ctx, "Failed to publish completion sync, pushing inline",
			"id", rec.ID, "error", err)
	}
	if l.syncer == nil {
		return
	}
	l.push(ctx, pending, rec)
}

func (l *Ledger) push(ctx context.Context, store PendingStore, rec core.CompletionRecord) bool {
	if err := l.syncer.Push(ctx, rec); err != nil {
		slog.WarnContext(ctx, "Completion kept locally, server sync failed",
			"id", rec.ID,
			"challenge_id", rec.ChallengeID,
			"error", err)
		if markErr := store.MarkSyncError(ctx, rec.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark completion sync error", "id", rec.ID, "error", markErr)
		}
		return false
	}
	if err := store.MarkSynced(ctx, rec.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark completion as synced", "id", rec.ID, "error", err)
		return false
	}
	return true
}

// SyncOne pushes a single stored completion. It is a no-op when the
// completion is already synced.
func (l *Ledger) SyncOne(ctx context.Context, id string) error {
	store, ok := l.store.(PendingStore)
	if !ok || l.syncer == nil {
		return nil
	}
	rec, err := store.GetCompletion(ctx, id)
	if err != nil {
		return fmt.Errorf("get completion %s: %w", id, err)
	}
	if rec.SyncStatus == "synced" {
		return nil
	}
	k := inflightKey{rec.UserID, rec.ChallengeID, rec.Period}
	if !l.acquire(k) {
		return ErrInFlight
	}
	defer l.release(k)

	if err := l.syncer.Push(ctx, rec); err != nil {
		if markErr := store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark completion sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("push completion %s: %w", id, err)
	}
	return store.MarkSynced(ctx, id)
}

// RetryPending pushes up to limit unsynced completions and returns how many
// were acknowledged. Completions currently in flight are skipped.
func (l *Ledger) RetryPending(ctx context.Context, limit int) (int, error) {
	store, ok := l.store.(PendingStore)
	if !ok || l.syncer == nil {
		return 0, nil
	}
	pending, err := store.PendingCompletions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending completions: %w", err)
	}

	synced := 0
	for _, rec := range pending {
		k := inflightKey{rec.UserID, rec.ChallengeID, rec.Period}
		if !l.acquire(k) {
			continue
		}
		if l.push(ctx, store, rec) {
			synced++
		}
		l.release(k)
	}
	if len(pending) > 0 {
		slog.InfoContext(ctx, "Pending completions retried", "pending", len(pending), "synced", synced)
	}
	return synced, nil
}
