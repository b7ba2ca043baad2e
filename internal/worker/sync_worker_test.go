package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"savebuddy/internal/amqp"
	"savebuddy/internal/core"
	"savebuddy/internal/ledger"
)

type fakeSyncer struct {
	mu     sync.Mutex
	fail   bool
	pushed []string
}

func (f *fakeSyncer) Push(_ context.Context, rec core.CompletionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.pushed = append(f.pushed, rec.ID)
	return nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

type countingPruner struct{ calls int32 }

func (p *countingPruner) PruneExpired(context.Context, time.Time) (int, error) {
	atomic.AddInt32(&p.calls, 1)
	return 1, nil
}

func seed(t *testing.T, store *ledger.MemoryStore, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := store.RecordCompletion(context.Background(), core.CompletionRecord{
			ID:          id,
			UserID:      7,
			ChallengeID: id,
			Period:      core.Daily,
			Instance:    "2025-03-01",
			CompletedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestHandleSyncMessage(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	syncer := &fakeSyncer{}
	w := NewSyncWorker(ledger.New(store, ledger.WithSyncer(syncer)), nil, Config{})
	seed(t, store, "c-1")

	if err := w.HandleSyncMessage(ctx, &amqp.CompletionSyncMessage{CompletionID: "c-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rec, err := store.GetCompletion(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SyncStatus != "synced" {
		t.Errorf("expected synced, got %q", rec.SyncStatus)
	}

	// already synced: no second push
	if err := w.HandleSyncMessage(ctx, &amqp.CompletionSyncMessage{CompletionID: "c-1"}); err != nil {
		t.Fatalf("handle again: %v", err)
	}
	if syncer.count() != 1 {
		t.Errorf("expected 1 push, got %d", syncer.count())
	}
}

func TestHandleSyncMessageUnknownIsDropped(t *testing.T) {
	w := NewSyncWorker(ledger.New(ledger.NewMemoryStore(), ledger.WithSyncer(&fakeSyncer{})), nil, Config{})
	if err := w.HandleSyncMessage(context.Background(), &amqp.CompletionSyncMessage{CompletionID: "missing"}); err != nil {
		t.Errorf("unknown completions should be acked, got %v", err)
	}
}

func TestHandleSyncMessageFailureRequeues(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	w := NewSyncWorker(ledger.New(store, ledger.WithSyncer(&fakeSyncer{fail: true})), nil, Config{})
	seed(t, store, "c-1")

	if err := w.HandleSyncMessage(ctx, &amqp.CompletionSyncMessage{CompletionID: "c-1"}); err == nil {
		t.Fatal("expected error so the message is requeued")
	}
	rec, _ := store.GetCompletion(ctx, "c-1")
	if rec.SyncStatus != "error" {
		t.Errorf("expected error status, got %q", rec.SyncStatus)
	}
}

func TestStartupSyncCheckAndSweep(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	syncer := &fakeSyncer{}
	w := NewSyncWorker(ledger.New(store, ledger.WithSyncer(syncer)), nil, Config{BatchSize: 1})
	seed(t, store, "a", "b", "c")

	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if syncer.count() != 1 {
		t.Fatalf("sweep should push one batch, pushed %d", syncer.count())
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatal(err)
	}
	if syncer.count() != 3 {
		t.Errorf("startup check should drain the rest, pushed %d", syncer.count())
	}
}

func TestCleanup(t *testing.T) {
	w := NewSyncWorker(ledger.New(ledger.NewMemoryStore()), nil, Config{})
	if err := w.Cleanup(context.Background()); err != nil {
		t.Errorf("cleanup without pruner: %v", err)
	}

	p := &countingPruner{}
	w = NewSyncWorker(ledger.New(ledger.NewMemoryStore()), p, Config{})
	if err := w.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&p.calls) != 1 {
		t.Errorf("expected one prune, got %d", p.calls)
	}
}

func TestDefaultConfig(t *testing.T) {
	w := NewSyncWorker(nil, nil, Config{})
	if w.config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", w.config.PollInterval)
	}
	if w.config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", w.config.BatchSize)
	}
	if w.config.CleanupInterval != time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", w.config.CleanupInterval)
	}
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := ledger.NewMemoryStore()
	syncer := &fakeSyncer{}
	p := &countingPruner{}
	w := NewSyncWorker(ledger.New(store, ledger.WithSyncer(syncer)), p, Config{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	})
	seed(t, store, "c-1")

	if w.IsRunning() {
		t.Fatal("worker should not be running initially")
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("expected error when starting twice")
	}

	deadline := time.Now().Add(2 * time.Second)
	for (syncer.count() == 0 || atomic.LoadInt32(&p.calls) == 0) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if syncer.count() != 1 {
		t.Errorf("sweep loop should push the pending completion, pushed %d", syncer.count())
	}
	if atomic.LoadInt32(&p.calls) == 0 {
		t.Error("cleanup loop should have run")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after stop")
	}
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("second stop should be a no-op: %v", err)
	}
}
