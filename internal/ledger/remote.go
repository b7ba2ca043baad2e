package ledger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
)

// CompletionAPI is the part of the API client the remote ledger needs.
type CompletionAPI interface {
	CompleteChallenge(ctx context.Context, rec core.CompletionRecord) (api.CompletionResult, error)
	Completions(ctx context.Context, userID int64) (api.Completions, error)
	ChallengeStatus(ctx context.Context, challengeID string) (bool, error)
}

// RemoteStore delegates the ledger to the server. Window-instance identity
// and expiry are the server's; now is ignored.
type RemoteStore struct {
	api CompletionAPI
}

func NewRemoteStore(c CompletionAPI) *RemoteStore {
	return &RemoteStore{api: c}
}

func (r *RemoteStore) IsCompleted(ctx context.Context, _ int64, challengeID string, _ core.Period, _ time.Time) (bool, error) {
	return r.api.ChallengeStatus(ctx, challengeID)
}

func (r *RemoteStore) RecordCompletion(ctx context.Context, rec core.CompletionRecord) (bool, error) {
	done, err := r.api.ChallengeStatus(ctx, rec.ChallengeID)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	res, err := r.api.CompleteChallenge(ctx, rec)
	if isConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (r *RemoteStore) ListCompletions(ctx context.Context, userID int64, _ time.Time) ([]core.CompletionRecord, error) {
	res, err := r.api.Completions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return res.Completions, nil
}

// RemoteSyncer pushes local completions with POST /api/challenges/complete.
type RemoteSyncer struct {
	api CompletionAPI
}

func NewRemoteSyncer(c CompletionAPI) *RemoteSyncer {
	return &RemoteSyncer{api: c}
}

// Push sends rec. A conflict means the server already holds it and counts
// as success.
func (s *RemoteSyncer) Push(ctx context.Context, rec core.CompletionRecord) error {
	res, err := s.api.CompleteChallenge(ctx, rec)
	if isConflict(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New("server rejected completion: " + res.Message)
	}
	return nil
}

func isConflict(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
