package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAllowWindow(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{RequestsPerMinute: 2}).WithClock(c.now)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request in the window should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other clients are not affected")
	}
	if got := rl.RetryAfter("a"); got != time.Minute {
		t.Errorf("RetryAfter = %v", got)
	}

	c.t = c.t.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("window should have reset")
	}
	if m := rl.GetMetrics(); m.TotalHits != 1 || m.ClientCount != 2 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	c := &clock{t: time.Now()}
	rl := NewLimiter(DefaultConfig()).WithClock(c.now)
	defer rl.Stop()

	rl.Allow("a")
	c.t = c.t.Add(11 * time.Minute)
	rl.Allow("b")
	if removed := rl.cleanupStaleEntries(); removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if rl.ActiveClients() != 1 {
		t.Errorf("ActiveClients = %d", rl.ActiveClients())
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	onlyPOST := func(r *http.Request) bool { return r.Method == http.MethodPost }
	h := rl.Middleware(func(*http.Request) string { return "ip" }, onlyPOST, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET should not be limited, got %d", rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("first POST got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
