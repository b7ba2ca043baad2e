package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
	"savebuddy/internal/records"
	"savebuddy/internal/session"
)

// upstream is a remote API whose /me and record create answers can be
// switched between success and a failure status.
type upstream struct {
	meStatus     atomic.Int32
	createStatus atomic.Int32
}

func newUpstream(t *testing.T) (*upstream, string) {
	t.Helper()
	u := &upstream{}
	u.meStatus.Store(http.StatusOK)
	u.createStatus.Store(http.StatusCreated)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if code := int(u.meStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			w.Write([]byte(`{"message":"upstream hiccup"}`))
			return
		}
		json.NewEncoder(w).Encode(core.User{ID: 1, Nickname: "민지", MonthlyTarget: 10000})
	})
	mux.HandleFunc("POST /api/savings/record", func(w http.ResponseWriter, r *http.Request) {
		code := int(u.createStatus.Load())
		w.WriteHeader(code)
		if code != http.StatusCreated {
			return
		}
		w.Write([]byte(`{"id":11,"userId":1,"itemName":"도시락","amount":3000,"category":"음식"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return u, srv.URL
}

// newRemoteEnv serves pages over a real API client, so the session reacts
// to what the remote API answers.
func newRemoteEnv(t *testing.T) (*testEnv, *upstream, *memTokens, *session.Holder) {
	t.Helper()
	up, url := newUpstream(t)
	tokens := &memTokens{token: "jwt"}
	client, err := api.New(url, tokens, 5*time.Second)
	require.NoError(t, err)
	holder := session.NewHolder(client, tokens)
	client.OnUnauthorized(holder.Expire)

	env := newTestEnv(t, func(d *Deps) {
		d.Session = holder
		d.Guard = session.NewGuard(holder, 0)
		d.Savings = records.New(client.Records(core.Savings), records.WithUserRefresher(holder))
	})
	u, err := holder.GetCurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	return env, up, tokens, holder
}

func TestFailedUserRefreshKeepsSession(t *testing.T) {
	env, up, tokens, holder := newRemoteEnv(t)
	up.meStatus.Store(http.StatusInternalServerError)

	rr := env.do(http.MethodPost, "/records/savings", `{"itemName":"도시락","amount":3000,"category":"음식"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	st := holder.State()
	assert.Equal(t, session.StatusAuthenticated, st.Status)
	assert.Empty(t, st.Error)
	_, ok := tokens.Token(context.Background())
	assert.True(t, ok)

	rr = env.do(http.MethodGet, "/challenges", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRejectedCredentialSignsOut(t *testing.T) {
	env, up, tokens, holder := newRemoteEnv(t)
	up.createStatus.Store(http.StatusUnauthorized)

	rr := env.do(http.MethodPost, "/records/savings", `{"itemName":"도시락","amount":3000,"category":"음식"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	_, ok := tokens.Token(context.Background())
	assert.False(t, ok)
	st := holder.State()
	assert.Equal(t, session.StatusAnonymous, st.Status)
	assert.Empty(t, st.Error)

	rr = env.do(http.MethodGet, "/challenges", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2Fchallenges", rr.Header().Get("Location"))
}
