package session

import (
	"net/url"
	"strings"
	"time"
)

type Decision string

const (
	DecisionLoading  Decision = "loading"
	DecisionAllow    Decision = "allow"
	DecisionRedirect Decision = "redirect"
)

// DefaultGraceDelay tolerates an OAuth redirect that is still completing.
const DefaultGraceDelay = time.Second

// Guard gates protected pages on the session state.
type Guard struct {
	holder *Holder
	grace  time.Duration
}

func NewGuard(h *Holder, grace time.Duration) *Guard {
	if grace < 0 {
		grace = DefaultGraceDelay
	}
	return &Guard{holder: h, grace: grace}
}

// Decide returns what a protected page should do for a request to u.
// Unresolved sessions and OAuth callbacks show a loading state; an
// anonymous session is redirected once the grace delay has passed since it
// was resolved.
func (g *Guard) Decide(u *url.URL) Decision {
	g.holder.mu.RLock()
	status := g.holder.status
	since := g.holder.anonymousSince
	g.holder.mu.RUnlock()

	switch status {
	case StatusAuthenticated:
		return DecisionAllow
	case StatusUnresolved:
		return DecisionLoading
	}
	if IsOAuthCallback(u) {
		return DecisionLoading
	}
	if g.holder.now().Sub(since) < g.grace {
		return DecisionLoading
	}
	return DecisionRedirect
}

// RetryAfter is how long until an anonymous session will be redirected.
func (g *Guard) RetryAfter() time.Duration {
	g.holder.mu.RLock()
	since := g.holder.anonymousSince
	g.holder.mu.RUnlock()
	left := g.grace - g.holder.now().Sub(since)
	if left < 0 {
		return 0
	}
	return left
}

// IsOAuthCallback reports whether u is the landing of a federated login.
func IsOAuthCallback(u *url.URL) bool {
	if u == nil {
		return false
	}
	if strings.HasPrefix(u.Path, "/oauth2/") {
		return true
	}
	return u.Query().Has("loginSuccess")
}
