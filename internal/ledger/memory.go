package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"savebuddy/internal/core"
)

// ErrNotFound is returned by MemoryStore for unknown completion ids.
var ErrNotFound = errors.New("completion not found")

// MemoryStore keeps completions in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]core.CompletionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]core.CompletionRecord)}
}

func (m *MemoryStore) active(userID int64, challengeID string, period core.Period, now time.Time) bool {
	for _, r := range m.records {
		if r.UserID == userID && r.ChallengeID == challengeID && r.Period == period &&
			!core.CompletionExpired(r.CompletedAt, r.Period, now) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) IsCompleted(_ context.Context, userID int64, challengeID string, period core.Period, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active(userID, challengeID, period, now), nil
}

func (m *MemoryStore) RecordCompletion(_ context.Context, rec core.CompletionRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active(rec.UserID, rec.ChallengeID, rec.Period, rec.CompletedAt) {
		return false, nil
	}
	rec.SyncStatus = "pending"
	m.records[rec.ID] = rec
	return true, nil
}

func (m *MemoryStore) ListCompletions(_ context.Context, userID int64, now time.Time) ([]core.CompletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.CompletionRecord
	for _, r := range m.records {
		if r.UserID == userID && !core.CompletionExpired(r.CompletedAt, r.Period, now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (m *MemoryStore) GetCompletion(_ context.Context, id string) (core.CompletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return core.CompletionRecord{}, fmt.Errorf("completion %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) PendingCompletions(_ context.Context, limit int) ([]core.CompletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.CompletionRecord
	for _, r := range m.records {
		if r.SyncStatus != "synced" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) setStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("completion %s: %w", id, ErrNotFound)
	}
	r.SyncStatus = status
	m.records[id] = r
	return nil
}

func (m *MemoryStore) MarkSynced(_ context.Context, id string) error {
	return m.setStatus(id, "synced")
}

func (m *MemoryStore) MarkSyncError(_ context.Context, id string) error {
	return m.setStatus(id, "error")
}
