// Package keystore persists small client-side values such as the bearer
// credential across storage tiers with a fixed priority order.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// TokenKey is the key the bearer credential is stored under.
const TokenKey = "jwt_token"

var ErrNoTier = errors.New("no storage tier available")

// Tier is one storage backend. Available reports whether the tier can be
// used at all in the current environment; it is checked before every call.
type Tier interface {
	Name() string
	Available(ctx context.Context) bool
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store falls back across tiers in the order they were given, typically
// persistent, then session-scoped, then memory.
type Store struct {
	tiers []Tier
}

func New(tiers ...Tier) *Store {
	return &Store{tiers: tiers}
}

// Get returns the value from the first available tier holding key.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	for _, t := range s.tiers {
		if !t.Available(ctx) {
			continue
		}
		v, ok, err := t.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "Keystore tier read failed", "tier", t.Name(), "key", key, "error", err)
			continue
		}
		if ok {
			return v, true
		}
	}
	return "", false
}

// Set writes to the first available tier that accepts the value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	var errs []error
	for _, t := range s.tiers {
		if !t.Available(ctx) {
			continue
		}
		if err := t.Set(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		slog.DebugContext(ctx, "Keystore value stored", "tier", t.Name(), "key", key)
		return nil
	}
	if len(errs) == 0 {
		return ErrNoTier
	}
	return fmt.Errorf("store %s: %w", key, errors.Join(errs...))
}

// Delete removes key from every available tier so no stale copy survives
// in a lower-priority tier.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, t := range s.tiers {
		if !t.Available(ctx) {
			continue
		}
		if err := t.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Token adapts Store to the credential interface used by the API client.
type Token struct {
	Store *Store
}

func (t Token) Token(ctx context.Context) (string, bool) {
	return t.Store.Get(ctx, TokenKey)
}

func (t Token) SetToken(ctx context.Context, token string) error {
	return t.Store.Set(ctx, TokenKey, token)
}

func (t Token) ClearToken(ctx context.Context) error {
	return t.Store.Delete(ctx, TokenKey)
}
