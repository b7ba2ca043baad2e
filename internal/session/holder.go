// Package session tracks the signed-in user and the bearer credential, and
// decides whether protected pages may be shown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
	"savebuddy/internal/log"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// API is the user part of the remote API.
type API interface {
	Me(ctx context.Context) (core.User, error)
	Login(ctx context.Context, username, password string) (core.User, string, error)
	Logout(ctx context.Context) error
	LoginURL() string
	AddExperience(ctx context.Context, userID int64, experience int) (core.User, error)
	AddSavings(ctx context.Context, userID int64, amount core.Won) (core.User, error)
	SetMonthlyTarget(ctx context.Context, target core.Won) error
}

// TokenStore holds the bearer credential.
type TokenStore interface {
	Token(ctx context.Context) (string, bool)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

type Status string

const (
	StatusUnresolved    Status = "unresolved"
	StatusAuthenticated Status = "authenticated"
	StatusAnonymous     Status = "anonymous"
)

// State is a snapshot of the session.
type State struct {
	Status Status     `json:"status"`
	User   *core.User `json:"user,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type Holder struct {
	api    API
	tokens TokenStore
	now    func() time.Time
	logger *log.Logger

	mu             sync.RWMutex
	status         Status
	user           *core.User
	errMsg         string
	anonymousSince time.Time
}

func NewHolder(a API, tokens TokenStore) *Holder {
	return &Holder{
		api:    a,
		tokens: tokens,
		now:    time.Now,
		logger: log.Default().WithComponent(log.ComponentSession),
		status: StatusUnresolved,
	}
}

// WithClock replaces the time source; used by tests.
func (h *Holder) WithClock(now func() time.Time) *Holder {
	h.now = now
	return h
}

func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := State{Status: h.status, Error: h.errMsg}
	if h.user != nil {
		u := *h.user
		st.User = &u
	}
	return st
}

// User returns the signed-in user.
func (h *Holder) User() (core.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.status != StatusAuthenticated || h.user == nil {
		return core.User{}, false
	}
	return *h.user, true
}

func (h *Holder) setUser(u core.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusAuthenticated
	h.user = &u
	h.errMsg = ""
}

func (h *Holder) clear(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusAnonymous {
		h.anonymousSince = h.now()
	}
	h.status = StatusAnonymous
	h.user = nil
	h.errMsg = msg
}

// GetCurrentUser asks the server who the stored credential belongs to. A
// "not authenticated" answer clears the session and is not an error; any
// other failure clears it too and is returned.
func (h *Holder) GetCurrentUser(ctx context.Context) (*core.User, error) {
	u, err := h.api.Me(ctx)
	switch {
	case err == nil && u.ID != 0:
		h.setUser(u)
		return &u, nil
	case err == nil, errors.Is(err, api.ErrUnauthorized):
		h.logger.DebugContext(ctx, "No authenticated user")
		h.clear("")
		return nil, nil
	default:
		h.logger.WarnContext(ctx, "Failed to get current user", "error", err)
		h.clear(errorMessage(err, "사용자 정보를 가져올 수 없습니다."))
		return nil, fmt.Errorf("get current user: %w", err)
	}
}

// Refresh reloads the user; used after record mutations change the totals.
// Only a rejected credential ends the session. Any other failure keeps the
// current state and is returned for logging.
func (h *Holder) Refresh(ctx context.Context) error {
	u, err := h.api.Me(ctx)
	switch {
	case err == nil && u.ID != 0:
		h.setUser(u)
		return nil
	case err == nil, errors.Is(err, api.ErrUnauthorized):
		h.Expire(ctx)
		return nil
	default:
		h.logger.DebugContext(ctx, "User refresh failed, keeping session", "error", err)
		return err
	}
}

// Expire signs the user out locally after the server rejected the
// credential. No error message is kept.
func (h *Holder) Expire(ctx context.Context) {
	h.mu.RLock()
	was := h.status
	h.mu.RUnlock()
	h.clear("")
	if was == StatusAuthenticated {
		h.logger.InfoContext(ctx, "Session expired", log.FieldOperation, log.OpLogout)
	}
}

// Login signs in with a username and password.
func (h *Holder) Login(ctx context.Context, username, password string) (core.User, error) {
	u, token, err := h.api.Login(ctx, username, password)
	if err != nil {
		h.mu.Lock()
		h.errMsg = errorMessage(err, "로그인에 실패했습니다.")
		h.mu.Unlock()
		return core.User{}, err
	}
	if token != "" {
		if err := h.tokens.SetToken(ctx, token); err != nil {
			h.logger.WarnContext(ctx, "Failed to store credential", "error", err)
		}
	}
	h.setUser(u)
	h.logger.InfoContext(ctx, "User logged in", log.FieldOperation, log.OpLogin, log.FieldUserID, u.ID)
	return u, nil
}

// AcceptToken stores the credential delivered by the OAuth redirect and
// resolves the user it belongs to.
func (h *Holder) AcceptToken(ctx context.Context, token string) (*core.User, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	if err := h.tokens.SetToken(ctx, token); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	u, err := h.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotAuthenticated
	}
	return u, nil
}

// LoginURL is the federated login entry point.
func (h *Holder) LoginURL() string {
	return h.api.LoginURL()
}

// Logout invalidates the server session on a best-effort basis and always
// clears the local credential and user.
func (h *Holder) Logout(ctx context.Context) error {
	if err := h.api.Logout(ctx); err != nil {
		h.logger.WarnContext(ctx, "Remote logout failed, clearing local session anyway", "error", err)
	}
	err := h.tokens.ClearToken(ctx)
	h.clear("")
	h.logger.InfoContext(ctx, "User logged out", log.FieldOperation, log.OpLogout)
	if err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (h *Holder) mutate(ctx context.Context, fn func(core.User) (core.User, error)) (core.User, error) {
	u, ok := h.User()
	if !ok {
		return core.User{}, ErrNotAuthenticated
	}
	updated, err := fn(u)
	if err != nil {
		return core.User{}, err
	}
	h.setUser(updated)
	return updated, nil
}

func (h *Holder) AddExperience(ctx context.Context, experience int) (core.User, error) {
	return h.mutate(ctx, func(u core.User) (core.User, error) {
		return h.api.AddExperience(ctx, u.ID, experience)
	})
}

func (h *Holder) AddSavings(ctx context.Context, amount core.Won) (core.User, error) {
	return h.mutate(ctx, func(u core.User) (core.User, error) {
		return h.api.AddSavings(ctx, u.ID, amount)
	})
}

// SetMonthlyTarget stores the monthly goal; the server replies without the
// user, so the local copy is updated in place.
func (h *Holder) SetMonthlyTarget(ctx context.Context, target core.Won) (core.User, error) {
	return h.mutate(ctx, func(u core.User) (core.User, error) {
		if err := h.api.SetMonthlyTarget(ctx, target); err != nil {
			return core.User{}, err
		}
		u.MonthlyTarget = target
		return u, nil
	})
}

func errorMessage(err error, fallback string) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
