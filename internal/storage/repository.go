package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"savebuddy/internal/core"

	_ "modernc.org/sqlite"
)

const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

var ErrNotFound = errors.New("not found")

// SQLiteRepository holds the client-side state of one profile: the
// credential tiers' key/value pairs, cached snapshots and the local
// completion ledger.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent evaluations.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetValue reads a key/value pair.
func (r *SQLiteRepository) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get value %s: %w", key, err)
	}
	return value, true, nil
}

func (r *SQLiteRepository) SetValue(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set value %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteValue(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete value %s: %w", key, err)
	}
	return nil
}

// SaveSnapshot stores v as JSON under key.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", key, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot stored under key into v.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, key string, v any) (bool, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// IsCompleted reports whether an unexpired completion exists.
func (r *SQLiteRepository) IsCompleted(ctx context.Context, userID int64, challengeID string, period core.Period, now time.Time) (bool, error) {
	active, err := r.activeCompletion(ctx, r.db, userID, challengeID, period, now)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// RecordCompletion inserts rec unless an unexpired completion for the same
// user, challenge and period already exists. It reports whether a row was
// created.
func (r *SQLiteRepository) RecordCompletion(ctx context.Context, rec core.CompletionRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Instance == "" {
		rec.Instance = core.InstanceKey(rec.CompletedAt)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	active, err := r.activeCompletion(ctx, tx, rec.UserID, rec.ChallengeID, rec.Period, rec.CompletedAt)
	if err != nil {
		return false, err
	}
	if active != nil {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO completions (id, user_id, challenge_id, challenge_title, period, instance, reward_amount, completed_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, challenge_id, period, instance) DO NOTHING`,
		rec.ID, rec.UserID, rec.ChallengeID, rec.ChallengeTitle, string(rec.Period), rec.Instance,
		int64(rec.RewardAmount), formatTime(rec.CompletedAt), SyncPending)
	if err != nil {
		return false, fmt.Errorf("insert completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit completion: %w", err)
	}

	if n == 1 {
		slog.InfoContext(ctx, "Completion saved to SQLite",
			"id", rec.ID,
			"user_id", rec.UserID,
			"challenge_id", rec.ChallengeID,
			"period", rec.Period,
			"instance", rec.Instance)
	}
	return n == 1, nil
}

// ListCompletions returns the user's unexpired completions, newest first.
func (r *SQLiteRepository) ListCompletions(ctx context.Context, userID int64, now time.Time) ([]core.CompletionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectCompletions+` WHERE user_id = ? ORDER BY completed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	all, err := scanCompletions(rows)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !core.CompletionExpired(c.CompletedAt, c.Period, now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetCompletion retrieves a completion by id.
func (r *SQLiteRepository) GetCompletion(ctx context.Context, id string) (core.CompletionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectCompletions+` WHERE id = ?`, id)
	if err != nil {
		return core.CompletionRecord{}, fmt.Errorf("get completion: %w", err)
	}
	found, err := scanCompletions(rows)
	if err != nil {
		return core.CompletionRecord{}, err
	}
	if len(found) == 0 {
		return core.CompletionRecord{}, fmt.Errorf("completion %s: %w", id, ErrNotFound)
	}
	return found[0], nil
}

// PendingCompletions returns completions the server has not acknowledged yet.
func (r *SQLiteRepository) PendingCompletions(ctx context.Context, limit int) ([]core.CompletionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectCompletions+` WHERE sync_status IN (?, ?) ORDER BY completed_at LIMIT ?`,
		SyncPending, SyncError, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending completions: %w", err)
	}
	return scanCompletions(rows)
}

// MarkSynced marks a completion as acknowledged by the server
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE completions SET sync_status = ?, sync_attempts = sync_attempts + 1 WHERE id = ?`, SyncSynced, id); err != nil {
		return fmt.Errorf("mark completion synced: %w", err)
	}
	slog.InfoContext(ctx, "Completion marked as synced", "id", id)
	return nil
}

// MarkSyncError records a failed push; the completion stays eligible for retry.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE completions SET sync_status = ?, sync_attempts = sync_attempts + 1 WHERE id = ?`, SyncError, id); err != nil {
		return fmt.Errorf("mark completion sync error: %w", err)
	}
	slog.WarnContext(ctx, "Completion marked with sync error", "id", id)
	return nil
}

// PruneExpired deletes synced completions whose window instance has lapsed.
// Unsynced rows are kept so the server still hears about them.
func (r *SQLiteRepository) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.db.QueryContext(ctx, selectCompletions+` WHERE sync_status = ?`, SyncSynced)
	if err != nil {
		return 0, fmt.Errorf("scan synced completions: %w", err)
	}
	synced, err := scanCompletions(rows)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, c := range synced {
		if !core.CompletionExpired(c.CompletedAt, c.Period, now) {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM completions WHERE id = ?`, c.ID); err != nil {
			return pruned, fmt.Errorf("delete completion %s: %w", c.ID, err)
		}
		pruned++
	}
	return pruned, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLiteRepository) activeCompletion(ctx context.Context, q querier, userID int64, challengeID string, period core.Period, now time.Time) (*core.CompletionRecord, error) {
	rows, err := q.QueryContext(ctx,
		selectCompletions+` WHERE user_id = ? AND challenge_id = ? AND period = ? ORDER BY completed_at DESC`,
		userID, challengeID, string(period))
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	found, err := scanCompletions(rows)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if !core.CompletionExpired(found[i].CompletedAt, found[i].Period, now) {
			return &found[i], nil
		}
	}
	return nil, nil
}

const selectCompletions = `SELECT id, user_id, challenge_id, challenge_title, period, instance, reward_amount, completed_at, sync_status FROM completions`

func scanCompletions(rows *sql.Rows) ([]core.CompletionRecord, error) {
	defer rows.Close()
	var out []core.CompletionRecord
	for rows.Next() {
		var (
			c           core.CompletionRecord
			period      string
			reward      int64
			completedAt string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.ChallengeID, &c.ChallengeTitle, &period, &c.Instance, &reward, &completedAt, &c.SyncStatus); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		t, err := parseTime(completedAt)
		if err != nil {
			return nil, fmt.Errorf("completion %s: %w", c.ID, err)
		}
		c.Period = core.Period(period)
		c.RewardAmount = core.Won(reward)
		c.CompletedAt = t
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Local(), nil
}
