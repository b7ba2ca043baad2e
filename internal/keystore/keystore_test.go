package keystore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenTier struct {
	available bool
}

func (b brokenTier) Name() string                        { return "broken" }
func (b brokenTier) Available(context.Context) bool      { return b.available }
func (b brokenTier) Delete(context.Context, string) error { return nil }
func (b brokenTier) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("quota exceeded")
}
func (b brokenTier) Set(context.Context, string, string) error {
	return errors.New("quota exceeded")
}

func TestStoreFallsBackAcrossTiers(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := New(brokenTier{available: true}, mem)

	require.NoError(t, s.Set(ctx, TokenKey, "tok"))

	v, ok, _ := mem.Get(ctx, TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)

	got, ok := s.Get(ctx, TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "tok", got)
}

func TestStoreSkipsUnavailableTiers(t *testing.T) {
	ctx := context.Background()
	s := New(brokenTier{available: false})
	assert.ErrorIs(t, s.Set(ctx, TokenKey, "tok"), ErrNoTier)

	_, ok := s.Get(ctx, TokenKey)
	assert.False(t, ok)
}

func TestStorePriorityOrder(t *testing.T) {
	ctx := context.Background()
	first, second := NewMemory(), NewMemory()
	require.NoError(t, second.Set(ctx, TokenKey, "stale"))

	s := New(first, second)
	require.NoError(t, s.Set(ctx, TokenKey, "fresh"))

	got, _ := s.Get(ctx, TokenKey)
	assert.Equal(t, "fresh", got)

	require.NoError(t, s.Delete(ctx, TokenKey))
	_, ok := s.Get(ctx, TokenKey)
	assert.False(t, ok, "delete must clear every tier")
}

func TestSessionTier(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	secret := []byte("0123456789abcdef0123456789abcdef")

	tier := NewSession(dir, secret)
	require.True(t, tier.Available(ctx))
	require.NoError(t, tier.Set(ctx, TokenKey, "sealed-token"))

	reopened := NewSession(dir, secret)
	v, ok, err := reopened.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sealed-token", v)

	other := NewSession(dir, nil)
	_, _, err = other.Get(ctx, TokenKey)
	assert.Error(t, err, "a different process key cannot read the sealed file")

	require.NoError(t, other.Delete(ctx, TokenKey))
	_, ok, err = reopened.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenAdapter(t *testing.T) {
	ctx := context.Background()
	tok := Token{Store: New(NewMemory())}

	_, ok := tok.Token(ctx)
	assert.False(t, ok)

	require.NoError(t, tok.SetToken(ctx, "jwt"))
	v, ok := tok.Token(ctx)
	assert.True(t, ok)
	assert.Equal(t, "jwt", v)

	require.NoError(t, tok.ClearToken(ctx))
	_, ok = tok.Token(ctx)
	assert.False(t, ok)
}
