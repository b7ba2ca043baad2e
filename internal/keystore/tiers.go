package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/securecookie"
)

// KV is the persistent key/value surface of the local database.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Persistent keeps values in the local database; they survive restarts.
type Persistent struct {
	kv KV
}

func NewPersistent(kv KV) *Persistent {
	return &Persistent{kv: kv}
}

func (p *Persistent) Name() string { return "persistent" }

func (p *Persistent) Available(ctx context.Context) bool {
	return p.kv != nil && p.kv.Ping(ctx) == nil
}

func (p *Persistent) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.GetValue(ctx, key)
}

func (p *Persistent) Set(ctx context.Context, key, value string) error {
	return p.kv.SetValue(ctx, key, value)
}

func (p *Persistent) Delete(ctx context.Context, key string) error {
	return p.kv.DeleteValue(ctx, key)
}

// Session keeps values in a file sealed with a process key. When the key is
// generated per process the values are unreadable after a restart, which
// makes the tier session-scoped.
type Session struct {
	mu    sync.Mutex
	path  string
	codec *securecookie.SecureCookie
}

// NewSession creates a session tier storing its file in dir. An empty secret
// generates a random per-process key.
func NewSession(dir string, secret []byte) *Session {
	hashKey := secret
	blockKey := secret
	if len(secret) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
	} else if len(blockKey) > 32 {
		blockKey = blockKey[:32]
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(0)
	return &Session{
		path:  filepath.Join(dir, "session.sealed"),
		codec: codec,
	}
}

func (s *Session) Name() string { return "session" }

func (s *Session) Available(ctx context.Context) bool {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func (s *Session) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *Session) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		values = map[string]string{}
	}
	values[key] = value
	return s.save(values)
}

func (s *Session) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		// Unreadable content is as good as deleted.
		return os.Remove(s.path)
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *Session) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var encoded string
	if err := s.codec.Decode("keystore", string(raw), &encoded); err != nil {
		return nil, fmt.Errorf("unseal session file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil, fmt.Errorf("decode session values: %w", err)
	}
	return values, nil
}

func (s *Session) save(values map[string]string) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return err
	}
	sealed, err := s.codec.Encode("keystore", string(payload))
	if err != nil {
		return fmt.Errorf("seal session values: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(sealed), 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Memory is the last-resort tier; it is always available.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Available(context.Context) bool { return true }

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
