package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"savebuddy/internal/core"
)

// flexID decodes an id sent either as a number or as a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type challengeDTO struct {
	ID               flexID        `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Icon             string        `json:"icon"`
	Category         core.Category `json:"category"`
	TargetAmount     core.Won      `json:"targetAmount"`
	Duration         int           `json:"duration"`
	RequiredDays     int           `json:"requiredDays"`
	Period           core.Period   `json:"period"`
	RewardAmount     core.Won      `json:"rewardAmount"`
	ExperienceReward int           `json:"experienceReward"`
	Rule             core.RuleKind `json:"rule"`
	IsActive         *bool         `json:"isActive"`
}

// periodForDuration maps a duration in days onto the window it fits.
func periodForDuration(days int) core.Period {
	switch {
	case days <= 1:
		return core.Daily
	case days <= 7:
		return core.Weekly
	default:
		return core.Monthly
	}
}

func (d challengeDTO) active() bool {
	return d.IsActive == nil || *d.IsActive
}

func (d challengeDTO) toCore() core.Challenge {
	ch := core.Challenge{
		ID:           string(d.ID),
		Title:        d.Title,
		Description:  d.Description,
		Icon:         d.Icon,
		Category:     d.Category,
		TargetAmount: d.TargetAmount,
		RequiredDays: d.RequiredDays,
		Period:       d.Period,
		RewardAmount: d.RewardAmount,
		Kind:         d.Rule,
	}
	if !ch.Period.Valid() {
		ch.Period = periodForDuration(d.Duration)
	}
	if ch.RewardAmount == 0 {
		ch.RewardAmount = ch.TargetAmount
	}
	if ch.RequiredDays == 0 && ch.Category == "" && ch.TargetAmount == 0 {
		ch.RequiredDays = d.Duration
	}
	return ch
}

func (c *Client) challenges(ctx context.Context, path string) ([]core.Challenge, error) {
	var dtos []challengeDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]core.Challenge, 0, len(dtos))
	for _, d := range dtos {
		if d.active() {
			out = append(out, d.toCore())
		}
	}
	return out, nil
}

// Challenges lists the active challenges.
func (c *Client) Challenges(ctx context.Context) ([]core.Challenge, error) {
	return c.challenges(ctx, "/api/challenges")
}

func (c *Client) Challenge(ctx context.Context, id string) (core.Challenge, error) {
	var d challengeDTO
	if err := c.do(ctx, http.MethodGet, "/api/challenges/"+url.PathEscape(id), nil, &d); err != nil {
		return core.Challenge{}, err
	}
	return d.toCore(), nil
}

func (c *Client) RecommendedChallenges(ctx context.Context, totalSavings core.Won) ([]core.Challenge, error) {
	return c.challenges(ctx, "/api/challenges/recommend/"+strconv.FormatInt(int64(totalSavings), 10))
}

func (c *Client) ChallengesByDuration(ctx context.Context, days int) ([]core.Challenge, error) {
	return c.challenges(ctx, "/api/challenges/duration/"+strconv.Itoa(days))
}

type completionRequest struct {
	ChallengeID    string      `json:"challengeId"`
	ChallengeTitle string      `json:"challengeTitle"`
	Period         core.Period `json:"period"`
	RewardAmount   core.Won    `json:"rewardAmount"`
}

type completionDTO struct {
	ID             flexID         `json:"id"`
	ChallengeID    flexID         `json:"challengeId"`
	ChallengeTitle string         `json:"challengeTitle"`
	Period         core.Period    `json:"period"`
	RewardAmount   core.Won       `json:"rewardAmount"`
	CompletedAt    core.Timestamp `json:"completedAt"`
}

func (d completionDTO) toCore(userID int64) core.CompletionRecord {
	completedAt := d.CompletedAt.Time
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return core.CompletionRecord{
		ID:             string(d.ID),
		UserID:         userID,
		ChallengeID:    string(d.ChallengeID),
		ChallengeTitle: d.ChallengeTitle,
		Period:         d.Period,
		Instance:       core.InstanceKey(completedAt),
		RewardAmount:   d.RewardAmount,
		CompletedAt:    completedAt,
		SyncStatus:     "synced",
	}
}

// CompletionResult is the server's answer to a completion.
type CompletionResult struct {
	Success    bool
	Message    string
	Completion core.CompletionRecord
}

// CompleteChallenge records a completion on the server.
func (c *Client) CompleteChallenge(ctx context.Context, rec core.CompletionRecord) (CompletionResult, error) {
	var resp struct {
		Success    bool          `json:"success"`
		Message    string        `json:"message"`
		Completion completionDTO `json:"completion"`
	}
	req := completionRequest{
		ChallengeID:    rec.ChallengeID,
		ChallengeTitle: rec.ChallengeTitle,
		Period:         rec.Period,
		RewardAmount:   rec.RewardAmount,
	}
	if err := c.do(ctx, http.MethodPost, "/api/challenges/complete", req, &resp); err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{
		Success:    resp.Success,
		Message:    resp.Message,
		Completion: resp.Completion.toCore(rec.UserID),
	}, nil
}

// Completions is the server's completion history of the caller.
type Completions struct {
	Completions  []core.CompletionRecord `json:"completions"`
	TotalCount   int                     `json:"totalCount"`
	TotalRewards core.Won                `json:"totalRewards"`
}

func (c *Client) Completions(ctx context.Context, userID int64) (Completions, error) {
	var resp struct {
		Completions  []completionDTO `json:"completions"`
		TotalCount   int             `json:"totalCount"`
		TotalRewards core.Won        `json:"totalRewards"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/challenges/completions", nil, &resp); err != nil {
		return Completions{}, err
	}
	out := Completions{TotalCount: resp.TotalCount, TotalRewards: resp.TotalRewards}
	for _, d := range resp.Completions {
		out.Completions = append(out.Completions, d.toCore(userID))
	}
	return out, nil
}

// ChallengeStatus reports whether the server considers the challenge
// completed in its current window.
func (c *Client) ChallengeStatus(ctx context.Context, challengeID string) (bool, error) {
	var resp struct {
		ChallengeID flexID `json:"challengeId"`
		IsCompleted bool   `json:"isCompleted"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/challenges/status/"+url.PathEscape(challengeID), nil, &resp); err != nil {
		return false, err
	}
	return resp.IsCompleted, nil
}
