package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestLRUCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](4, time.Minute).WithClock(clock.now)

	c.Set("catalog", "v1")
	if got, ok := c.Get("catalog"); !ok || got != "v1" {
		t.Fatalf("Get() = %q, %v; want v1, true", got, ok)
	}

	clock.t = clock.t.Add(time.Minute)
	if _, ok := c.Get("catalog"); ok {
		t.Error("entry should expire after its TTL")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := NewLRUCache[int](10, time.Second).WithClock(clock.now)
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager()
	m.Register(c)

	if n := m.CleanNow(); n != 0 {
		t.Errorf("CleanNow() = %d before expiry, want 0", n)
	}
	clock.t = clock.t.Add(2 * time.Second)
	if n := m.CleanNow(); n != 2 {
		t.Errorf("CleanNow() = %d, want 2", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
