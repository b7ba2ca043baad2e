// Package records holds the fetched savings or expense records of the
// signed-in user and the summaries derived from them.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
	"savebuddy/internal/log"
)

// ErrInvalidInput marks a submission rejected before any network call.
var ErrInvalidInput = errors.New("invalid record input")

// API is one record family of the remote API.
type API interface {
	Kind() core.RecordKind
	Create(ctx context.Context, in core.RecordInput) (core.Record, error)
	All(ctx context.Context) ([]core.Record, error)
	Today(ctx context.Context) (core.RecordInfo, error)
	Month(ctx context.Context) (core.RecordInfo, error)
	Latest(ctx context.Context) ([]core.Record, error)
	Week(ctx context.Context) (api.WeekTotals, error)
	Category(ctx context.Context) ([]core.CategoryStat, error)
	Delete(ctx context.Context, id, userID int64) error
}

// SnapshotCache persists the last known record list.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, key string, v any) error
	LoadSnapshot(ctx context.Context, key string, v any) (bool, error)
}

// UserRefresher reloads the signed-in user's summary figures.
type UserRefresher interface {
	Refresh(ctx context.Context) error
}

// Summary is the server's view of the record aggregates.
type Summary struct {
	Today      core.RecordInfo     `json:"today"`
	Month      core.RecordInfo     `json:"month"`
	Latest     []core.Record       `json:"latest"`
	Week       api.WeekTotals      `json:"week"`
	Categories []core.CategoryStat `json:"categories"`
}

const (
	fieldToday      = "today"
	fieldMonth      = "month"
	fieldLatest     = "latest"
	fieldWeek       = "week"
	fieldCategories = "categories"
)

type Store struct {
	api       API
	snapshots SnapshotCache
	user      UserRefresher
	logger    *log.Logger

	mu      sync.RWMutex
	records []core.Record
	summary Summary
	issued  map[string]uint64
	lastErr string
}

type Option func(*Store)

func WithSnapshots(c SnapshotCache) Option {
	return func(s *Store) { s.snapshots = c }
}

func WithUserRefresher(u UserRefresher) Option {
	return func(s *Store) { s.user = u }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentRecords) }
}

func New(a API, opts ...Option) *Store {
	s := &Store{
		api:    a,
		issued: make(map[string]uint64),
		logger: log.Default().WithComponent(log.ComponentRecords),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Kind() core.RecordKind { return s.api.Kind() }

func (s *Store) snapshotKey() string { return "records:" + string(s.api.Kind()) }

// FetchAll replaces the local list with the server's. On failure the prior
// list is kept and returned.
func (s *Store) FetchAll(ctx context.Context) []core.Record {
	list, err := s.api.All(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to fetch records, keeping previous state",
			log.FieldOperation, log.OpFetch, log.FieldRecordKind, s.Kind(), "error", err)
		return s.Records()
	}

	s.mu.Lock()
	s.records = list
	s.mu.Unlock()

	s.saveSnapshot(ctx)
	return s.Records()
}

// Create validates in, posts it and prepends the stored record. Dependent
// summaries are refreshed after the server accepted the record.
func (s *Store) Create(ctx context.Context, in core.RecordInput) (core.Record, error) {
	if err := in.Validate(); err != nil {
		s.setError(validationMessage(err))
		return core.Record{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	rec, err := s.api.Create(ctx, in)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create record",
			log.NewFields().WithOperation(log.OpCreate).
				WithRecord(string(s.Kind()), 0, int64(in.Amount), string(in.Category)).
				WithError(err).ToSlice()...)
		s.setError(failureMessage(s.Kind(), log.OpCreate, err))
		return core.Record{}, err
	}

	s.mu.Lock()
	s.records = append([]core.Record{rec}, s.records...)
	s.lastErr = ""
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Record created",
		log.NewFields().WithOperation(log.OpCreate).
			WithRecord(string(s.Kind()), rec.ID, int64(rec.Amount), string(rec.Category)).ToSlice()...)

	s.saveSnapshot(ctx)
	s.Refresh(ctx)
	return rec, nil
}

// Delete removes the record locally, then on the server. On server failure
// the error is returned and the caller is expected to FetchAll.
func (s *Store) Delete(ctx context.Context, id, userID int64) error {
	s.mu.Lock()
	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.records = kept
	s.mu.Unlock()

	if err := s.api.Delete(ctx, id, userID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete record",
			log.FieldOperation, log.OpDelete, log.FieldRecordID, id, "error", err)
		s.setError(failureMessage(s.Kind(), log.OpDelete, err))
		return err
	}

	s.saveSnapshot(ctx)
	s.Refresh(ctx)
	return nil
}

// Refresh reloads the server summaries and the user's figures concurrently.
// Failures are logged only. A summary field is written only by the most
// recently issued refresh of that field.
func (s *Store) Refresh(ctx context.Context) {
	var g errgroup.Group

	refresh(ctx, s, &g, fieldToday, s.api.Today, func(sum *Summary, v core.RecordInfo) { sum.Today = v })
	refresh(ctx, s, &g, fieldMonth, s.api.Month, func(sum *Summary, v core.RecordInfo) { sum.Month = v })
	refresh(ctx, s, &g, fieldLatest, s.api.Latest, func(sum *Summary, v []core.Record) { sum.Latest = v })
	refresh(ctx, s, &g, fieldWeek, s.api.Week, func(sum *Summary, v api.WeekTotals) { sum.Week = v })
	refresh(ctx, s, &g, fieldCategories, s.api.Category, func(sum *Summary, v []core.CategoryStat) { sum.Categories = v })

	if s.user != nil {
		g.Go(func() error {
			if err := s.user.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh user: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "Background refresh failed",
			log.FieldOperation, log.OpRefresh, log.FieldRecordKind, s.Kind(), "error", err)
	}
}

func refresh[T any](ctx context.Context, s *Store, g *errgroup.Group, field string,
	fetch func(context.Context) (T, error), apply func(*Summary, T)) {
	s.mu.Lock()
	s.issued[field]++
	gen := s.issued[field]
	s.mu.Unlock()

	g.Go(func() error {
		v, err := fetch(ctx)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", field, err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.issued[field] != gen {
			return nil
		}
		apply(&s.summary, v)
		return nil
	})
}

// Restore loads the last saved record list, for use before the first fetch.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	var list []core.Record
	ok, err := s.snapshots.LoadSnapshot(ctx, s.snapshotKey(), &list)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	s.records = list
	s.mu.Unlock()
	return true, nil
}

func (s *Store) saveSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveSnapshot(ctx, s.snapshotKey(), s.Records()); err != nil {
		s.logger.WarnContext(ctx, "Failed to save record snapshot", "error", err)
	}
}

// Records returns a copy of the current list, newest first as fetched.
func (s *Store) Records() []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Record(nil), s.records...)
}

// ServerSummary returns the last summaries the server reported.
func (s *Store) ServerSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

func (s *Store) Total() core.Won { return core.Sum(s.Records()) }

func (s *Store) Today(now time.Time) core.RecordInfo { return core.Today(s.Records(), now) }

func (s *Store) Month(now time.Time) core.RecordInfo { return core.ThisMonth(s.Records(), now) }

func (s *Store) CategoryStats() []core.CategoryStat { return core.CategoryStats(s.Records()) }

func (s *Store) Latest(n int) []core.Record { return core.Latest(s.Records(), n) }

func (s *Store) Week(now time.Time) []core.DailyAmount { return core.WeekAmounts(s.Records(), now) }

// LastError is the user-visible message of the last blocking failure.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) ClearError() { s.setError("") }

func (s *Store) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		return "금액은 0보다 커야 합니다."
	case errors.Is(err, core.ErrEmptyItemName):
		return "항목명을 입력해주세요."
	case errors.Is(err, core.ErrInvalidCategory):
		return "카테고리를 선택해주세요."
	}
	return err.Error()
}

func failureMessage(kind core.RecordKind, op string, err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	verb := "등록"
	if op == log.OpDelete {
		verb = "삭제"
	}
	noun := "절약"
	if kind == core.Expense {
		noun = "소비"
	}
	return noun + " 기록 " + verb + "에 실패했습니다."
}
