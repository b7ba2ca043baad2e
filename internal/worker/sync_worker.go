// Package worker pushes locally recorded challenge completions to the server
// in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"savebuddy/internal/amqp"
	"savebuddy/internal/ledger"
	"savebuddy/internal/storage"
)

// Syncer is the part of the ledger the worker drives.
type Syncer interface {
	SyncOne(ctx context.Context, id string) error
	RetryPending(ctx context.Context, limit int) (int, error)
}

// Pruner drops synced completions whose window has passed.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	// PollInterval is how often pending completions are swept (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of completions pushed per sweep (default: 10)
	BatchSize int

	// CleanupInterval is how often expired completions are pruned (default: 1h)
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		BatchSize:       10,
		CleanupInterval: time.Hour,
	}
}

// SyncWorker handles completion sync messages and periodically sweeps the
// ledger for completions whose message was lost.
type SyncWorker struct {
	ledger Syncer
	pruner Pruner
	config Config
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncWorker(l Syncer, pruner Pruner, config Config) *SyncWorker {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	return &SyncWorker{ledger: l, pruner: pruner, config: config, now: time.Now}
}

// HandleSyncMessage pushes the completion named by msg. Completions that no
// longer exist locally are dropped; other failures are returned so the
// message is requeued.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.CompletionSyncMessage) error {
	slog.InfoContext(ctx, "Processing completion sync message",
		"completion_id", msg.CompletionID,
		"challenge_id", msg.ChallengeID)

	err := w.ledger.SyncOne(ctx, msg.CompletionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		slog.WarnContext(ctx, "Completion not found locally, dropping message",
			"completion_id", msg.CompletionID)
		return nil
	default:
		return fmt.Errorf("sync completion: %w", err)
	}
}

// StartupSyncCheck pushes completions left pending while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.ledger.RetryPending(ctx, w.config.BatchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed", "synced", synced)
	return nil
}

// Sweep pushes one batch of pending completions.
func (w *SyncWorker) Sweep(ctx context.Context) error {
	if _, err := w.ledger.RetryPending(ctx, w.config.BatchSize); err != nil {
		return fmt.Errorf("sweep pending completions: %w", err)
	}
	return nil
}

// Cleanup prunes expired, already synced completions.
func (w *SyncWorker) Cleanup(ctx context.Context) error {
	if w.pruner == nil {
		return nil
	}
	n, err := w.pruner.PruneExpired(ctx, w.now())
	if err != nil {
		return fmt.Errorf("prune expired completions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Pruned expired completions", "count", n)
	}
	return nil
}

// Start begins the sweep loop. Returns an error if already running.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Sync worker started",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it to finish or ctx to expire.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync worker stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}
}

func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	pollTicker := time.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			if err := w.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic sync failed", "error", err)
			}
		case <-cleanupTicker.C:
			if err := w.Cleanup(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic cleanup failed", "error", err)
			}
		}
	}
}
