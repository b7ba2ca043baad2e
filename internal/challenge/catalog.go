// Package challenge holds the challenge catalog and decides which challenges
// a user's records newly satisfy.
package challenge

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"savebuddy/internal/cache"
	"savebuddy/internal/core"
)

//go:embed catalog.yaml
var builtinCatalog []byte

var ErrUnknownChallenge = errors.New("unknown challenge")

// Source is the server side of the catalog.
type Source interface {
	Challenges(ctx context.Context) ([]core.Challenge, error)
	Challenge(ctx context.Context, id string) (core.Challenge, error)
	RecommendedChallenges(ctx context.Context, totalSavings core.Won) ([]core.Challenge, error)
	ChallengesByDuration(ctx context.Context, days int) ([]core.Challenge, error)
}

// Catalog lists challenge definitions. A server catalog is authoritative and
// cached; a static catalog is fixed at load time.
type Catalog struct {
	source Source
	static []core.Challenge
	cache  *cache.LRUCache[[]core.Challenge]
}

// NewServerCatalog reads challenges from src, caching each listing for ttl.
func NewServerCatalog(src Source, ttl time.Duration) *Catalog {
	return &Catalog{
		source: src,
		cache:  cache.NewLRUCache[[]core.Challenge](32, ttl),
	}
}

// NewStaticCatalog serves a fixed set of challenges.
func NewStaticCatalog(challenges []core.Challenge) *Catalog {
	return &Catalog{static: append([]core.Challenge(nil), challenges...)}
}

type catalogFile struct {
	Challenges []core.Challenge `yaml:"challenges"`
}

// ParseStatic decodes a YAML catalog and validates every entry.
func ParseStatic(r io.Reader) ([]core.Challenge, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Challenges))
	for i, c := range f.Challenges {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("challenge %d (%s): %w", i, c.ID, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate challenge id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return f.Challenges, nil
}

// BuiltinChallenges returns the embedded catalog.
func BuiltinChallenges() []core.Challenge {
	challenges, err := ParseStatic(bytes.NewReader(builtinCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return challenges
}

// LoadStaticFile reads a YAML catalog from path.
func LoadStaticFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	challenges, err := ParseStatic(f)
	if err != nil {
		return nil, err
	}
	return NewStaticCatalog(challenges), nil
}

// Static reports whether the catalog is fixed.
func (c *Catalog) Static() bool { return c.source == nil }

// Invalidate drops cached server listings.
func (c *Catalog) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Cache exposes the listing cache for periodic cleanup; nil for static catalogs.
func (c *Catalog) Cache() *cache.LRUCache[[]core.Challenge] {
	return c.cache
}

func (c *Catalog) cached(ctx context.Context, key string, fetch func(context.Context) ([]core.Challenge, error)) ([]core.Challenge, error) {
	if list, ok := c.cache.Get(key); ok {
		return list, nil
	}
	list, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch challenges: %w", err)
	}
	valid := make([]core.Challenge, 0, len(list))
	for _, ch := range list {
		if err := ch.Validate(); err != nil {
			slog.WarnContext(ctx, "Skipping invalid challenge", "challenge_id", ch.ID, "error", err)
			continue
		}
		valid = append(valid, ch)
	}
	c.cache.Set(key, valid)
	return valid, nil
}

// List returns every active challenge.
func (c *Catalog) List(ctx context.Context) ([]core.Challenge, error) {
	if c.Static() {
		return append([]core.Challenge(nil), c.static...), nil
	}
	return c.cached(ctx, "all", c.source.Challenges)
}

func (c *Catalog) Get(ctx context.Context, id string) (core.Challenge, error) {
	list, err := c.List(ctx)
	if err == nil {
		for _, ch := range list {
			if ch.ID == id {
				return ch, nil
			}
		}
	}
	if c.Static() {
		return core.Challenge{}, fmt.Errorf("%w: %s", ErrUnknownChallenge, id)
	}
	ch, err := c.source.Challenge(ctx, id)
	if err != nil {
		return core.Challenge{}, fmt.Errorf("get challenge %s: %w", id, err)
	}
	return ch, nil
}

// Recommend returns challenges whose target lies between the user's total
// savings and 100,000 won above it.
func (c *Catalog) Recommend(ctx context.Context, totalSavings core.Won) ([]core.Challenge, error) {
	if !c.Static() {
		key := "recommend:" + strconv.FormatInt(int64(totalSavings), 10)
		return c.cached(ctx, key, func(ctx context.Context) ([]core.Challenge, error) {
			return c.source.RecommendedChallenges(ctx, totalSavings)
		})
	}
	var out []core.Challenge
	for _, ch := range c.static {
		if ch.TargetAmount >= totalSavings && ch.TargetAmount <= totalSavings+100000 {
			out = append(out, ch)
		}
	}
	return out, nil
}

// ByDuration returns challenges lasting days, cheapest first.
func (c *Catalog) ByDuration(ctx context.Context, days int) ([]core.Challenge, error) {
	if !c.Static() {
		return c.cached(ctx, "duration:"+strconv.Itoa(days), func(ctx context.Context) ([]core.Challenge, error) {
			return c.source.ChallengesByDuration(ctx, days)
		})
	}
	var out []core.Challenge
	for _, ch := range c.static {
		if PeriodDays(ch.Period) == days {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TargetAmount < out[j].TargetAmount })
	return out, nil
}

// PeriodDays is the nominal length of a period.
func PeriodDays(p core.Period) int {
	switch p {
	case core.Daily:
		return 1
	case core.Weekly:
		return 7
	case core.Monthly:
		return 30
	}
	return 0
}
