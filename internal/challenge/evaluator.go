package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"savebuddy/internal/core"
	"savebuddy/internal/ledger"
	"savebuddy/internal/log"
)

// Lister is the catalog as seen by the evaluator.
type Lister interface {
	List(ctx context.Context) ([]core.Challenge, error)
}

// Ledger is the completion ledger as seen by the evaluator.
type Ledger interface {
	IsCompleted(ctx context.Context, userID int64, challengeID string, period core.Period, now time.Time) (bool, error)
	RecordCompletion(ctx context.Context, rec core.CompletionRecord) (bool, error)
	RetryPending(ctx context.Context, limit int) (int, error)
}

// CompletedFunc is called once per newly completed challenge.
type CompletedFunc func(ctx context.Context, ch core.Challenge, rec core.CompletionRecord)

type Evaluator struct {
	catalog     Lister
	ledger      Ledger
	onCompleted CompletedFunc
	retryLimit  int
	logger      *log.Logger
}

type EvaluatorOption func(*Evaluator)

// OnCompleted registers the celebration hook.
func OnCompleted(fn CompletedFunc) EvaluatorOption {
	return func(e *Evaluator) { e.onCompleted = fn }
}

// WithLogger replaces the evaluator's logger.
func WithLogger(l *log.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l.WithComponent(log.ComponentChallenge) }
}

// RetryLimit bounds how many unsynced completions are retried per pass.
func RetryLimit(n int) EvaluatorOption {
	return func(e *Evaluator) { e.retryLimit = n }
}

func NewEvaluator(catalog Lister, l Ledger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		catalog:    catalog,
		ledger:     l,
		retryLimit: 10,
		logger:     log.Default().WithComponent(log.ComponentChallenge),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metric returns the governing aggregate of ch over records as of now and
// the threshold it is compared against.
func Metric(ch core.Challenge, records []core.Record, now time.Time) (value, threshold int64) {
	switch ch.Rule() {
	case core.RuleStreak:
		return int64(core.Streak(records, now)), int64(ch.RequiredDays)
	case core.RuleCategoryAmount:
		inWindow := core.InInterval(records, core.WindowFor(ch.Period, now))
		return int64(core.Sum(core.InCategory(inWindow, ch.Category))), int64(ch.TargetAmount)
	default:
		inWindow := core.InInterval(records, core.WindowFor(ch.Period, now))
		return int64(core.Sum(inWindow)), int64(ch.TargetAmount)
	}
}

// Satisfied reports whether records meet ch in its current window instance.
// An empty metric never satisfies, even against a zero threshold.
func Satisfied(ch core.Challenge, records []core.Record, now time.Time) bool {
	value, threshold := Metric(ch, records, now)
	return value > 0 && value >= threshold
}

// Evaluate checks every catalog challenge against records and persists the
// newly satisfied ones. It returns the ids whose completion was persisted in
// this pass; a challenge whose ledger write failed is not reported so a
// later pass can retry it.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64, records []core.Record, now time.Time) ([]string, error) {
	if e.retryLimit > 0 {
		if _, err := e.ledger.RetryPending(ctx, e.retryLimit); err != nil {
			e.logger.WarnContext(ctx, "Pending completion retry failed", "error", err)
		}
	}

	challenges, err := e.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}

	var completed []string
	for _, ch := range challenges {
		if !Satisfied(ch, records, now) {
			continue
		}

		done, err := e.ledger.IsCompleted(ctx, userID, ch.ID, ch.Period, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to read completion ledger",
				log.FieldChallengeID, ch.ID, "error", err)
			continue
		}
		if done {
			continue
		}

		rec := core.CompletionRecord{
			UserID:         userID,
			ChallengeID:    ch.ID,
			ChallengeTitle: ch.Title,
			Period:         ch.Period,
			Instance:       core.InstanceKey(now),
			RewardAmount:   ch.RewardAmount,
			CompletedAt:    now,
		}
		created, err := e.ledger.RecordCompletion(ctx, rec)
		if errors.Is(err, ledger.ErrInFlight) {
			e.logger.DebugContext(ctx, "Completion already in flight", log.FieldChallengeID, ch.ID)
			continue
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to persist completion",
				log.FieldChallengeID, ch.ID, "error", err)
			continue
		}
		if !created {
			continue
		}

		e.logger.InfoContext(ctx, "Challenge completed",
			log.FieldChallengeID, ch.ID,
			log.FieldUserID, userID,
			"period", ch.Period,
			"reward", int64(ch.RewardAmount))
		completed = append(completed, ch.ID)
		if e.onCompleted != nil {
			e.onCompleted(ctx, ch, rec)
		}
	}
	return completed, nil
}

// Status is a challenge's progress in its current window instance.
type Status struct {
	Challenge core.Challenge  `json:"challenge"`
	Icon      string          `json:"icon"`
	Label     string          `json:"periodLabel"`
	Current   int64           `json:"current"`
	Target    int64           `json:"target"`
	Percent   decimal.Decimal `json:"percent"`
	Completed bool            `json:"completed"`
}

// Progress reports every challenge's progress and ledger state.
func (e *Evaluator) Progress(ctx context.Context, userID int64, records []core.Record, now time.Time) ([]Status, error) {
	challenges, err := e.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	out := make([]Status, 0, len(challenges))
	for _, ch := range challenges {
		value, threshold := Metric(ch, records, now)
		done, err := e.ledger.IsCompleted(ctx, userID, ch.ID, ch.Period, now)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to read completion ledger", log.FieldChallengeID, ch.ID, "error", err)
		}
		pct := core.Progress(core.Won(value), core.Won(threshold))
		if pct.GreaterThan(decimal.NewFromInt(100)) {
			pct = decimal.NewFromInt(100)
		}
		out = append(out, Status{
			Challenge: ch,
			Icon:      ch.DisplayIcon(),
			Label:     ch.Period.Label(),
			Current:   value,
			Target:    threshold,
			Percent:   pct,
			Completed: done,
		})
	}
	return out, nil
}
