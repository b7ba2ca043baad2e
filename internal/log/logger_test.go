package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentLedger, Output: &buf})

	logger.Info("completion recorded", FieldChallengeID, "coffee")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") {
		t.Errorf("missing component in %q", out)
	}
	if !strings.Contains(out, "challenge_id=coffee") {
		t.Errorf("missing challenge id in %q", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentRecords).Warn("refresh failed")
	if !strings.Contains(buf.String(), "component=records") {
		t.Errorf("WithComponent did not switch component: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMiddlewareCarriesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Component: ComponentHTTP, Output: &buf})

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).With(FieldRequestID, "req-1")
		got.Info("handled")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("logger not propagated: %+v", got)
	}
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("request id missing: %q", buf.String())
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Errorf("expected fallback logger")
	}
}
