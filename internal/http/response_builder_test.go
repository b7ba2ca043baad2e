package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResponseBuilderJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	NewResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "v").
		JSON(map[string]int{"n": 1}).
		Write(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Custom") != "v" {
		t.Error("missing custom header")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || got["n"] != 1 {
		t.Errorf("body = %q (%v)", rr.Body.String(), err)
	}
}

func TestResponseBuilderEmptyBody(t *testing.T) {
	rr := httptest.NewRecorder()
	NewResponse().Status(http.StatusNoContent).Write(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "1"},
		{300 * time.Millisecond, "1"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		NewResponse().RetryAfter(tt.d).Write(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if got := rr.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("RetryAfter(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name string
		b    *ResponseBuilder
		code int
	}{
		{"bad request", BadRequestError("x"), http.StatusBadRequest},
		{"unprocessable", UnprocessableEntityError("x"), http.StatusUnprocessableEntity},
		{"bad gateway", BadGatewayError("x"), http.StatusBadGateway},
		{"internal", InternalServerError("x"), http.StatusInternalServerError},
		{"not found", NotFoundError("x"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.b.Write(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != tt.code {
				t.Errorf("status = %d, want %d", rr.Code, tt.code)
			}
			var body ErrorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error != "x" {
				t.Errorf("body = %q", rr.Body.String())
			}
		})
	}
}
