package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savebuddy/internal/log"
)

func TestMiddlewareTagsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" })

	var seen string
	h := log.Middleware(logger)(m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		log.FromContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/savings", nil))

	require.NotEmpty(t, seen)
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), "request_id="+seen)
	assert.Contains(t, buf.String(), "status_code=418")
	assert.Equal(t, int64(1), m.GetMetrics().TotalRequests)
}

func TestMiddlewareKeepsClientRequestID(t *testing.T) {
	m := NewMiddleware(nil)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc-123", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 65))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, strings.Repeat("x", 65), seen)
}
