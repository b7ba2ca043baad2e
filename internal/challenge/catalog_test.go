package challenge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savebuddy/internal/core"
)

func TestBuiltinCatalog(t *testing.T) {
	challenges := BuiltinChallenges()
	require.Len(t, challenges, 6)

	byID := map[string]core.Challenge{}
	for _, c := range challenges {
		byID[c.ID] = c
	}
	assert.Equal(t, core.Won(4500), byID["coffee"].TargetAmount)
	assert.Equal(t, core.CategoryFood, byID["coffee"].Category)
	assert.Equal(t, core.RuleStreak, byID["streak"].Rule())
	assert.Equal(t, 30, byID["streak"].RequiredDays)
	assert.Equal(t, core.Won(50000), byID["streak"].RewardAmount)
	assert.Equal(t, core.RuleTotalAmount, byID["target"].Rule())
}

func TestParseStaticRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "challenges:\n  - id: a\n    period: daily\n    bogus: 1\n"},
		{"bad period", "challenges:\n  - id: a\n    period: yearly\n"},
		{"bad category", "challenges:\n  - id: a\n    period: daily\n    category: 여행\n"},
		{"duplicate", "challenges:\n  - id: a\n    period: daily\n  - id: a\n    period: weekly\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatic(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "challenges:\n  - id: lunch\n    title: 점심 도시락\n    period: daily\n    category: 음식\n    target_amount: 8000\n    reward_amount: 8000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadStaticFile(path)
	require.NoError(t, err)
	assert.True(t, c.Static())

	ch, err := c.Get(context.Background(), "lunch")
	require.NoError(t, err)
	assert.Equal(t, core.Won(8000), ch.TargetAmount)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}

func TestStaticRecommendAndDuration(t *testing.T) {
	ctx := context.Background()
	c := NewStaticCatalog(BuiltinChallenges())

	rec, err := c.Recommend(ctx, 20000)
	require.NoError(t, err)
	var ids []string
	for _, ch := range rec {
		ids = append(ids, ch.ID)
	}
	assert.ElementsMatch(t, []string{"delivery", "shopping", "target"}, ids)

	weekly, err := c.ByDuration(ctx, 7)
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "delivery", weekly[0].ID)
	assert.Equal(t, "shopping", weekly[1].ID)
}

type countingSource struct {
	calls int
	fail  bool
}

func (s *countingSource) Challenges(context.Context) ([]core.Challenge, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("connection refused")
	}
	return []core.Challenge{
		{ID: "1", Title: "커피", Category: core.CategoryFood, TargetAmount: 4500, Period: core.Daily},
		{ID: "", Title: "broken", Period: core.Daily},
	}, nil
}

func (s *countingSource) Challenge(_ context.Context, id string) (core.Challenge, error) {
	return core.Challenge{ID: id, Period: core.Weekly}, nil
}

func (s *countingSource) RecommendedChallenges(context.Context, core.Won) ([]core.Challenge, error) {
	s.calls++
	return nil, nil
}

func (s *countingSource) ChallengesByDuration(context.Context, int) ([]core.Challenge, error) {
	s.calls++
	return nil, nil
}

func TestServerCatalogCaches(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	c := NewServerCatalog(src, time.Minute)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "invalid server challenges are skipped")

	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	ch, err := c.Get(ctx, "99")
	require.NoError(t, err)
	assert.Equal(t, "99", ch.ID)

	c.Invalidate()
	src.fail = true
	_, err = c.List(ctx)
	assert.Error(t, err)
}
