// Package api is the client of the remote savings REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Credentials supplies and clears the bearer token.
type Credentials interface {
	Token(ctx context.Context) (string, bool)
	ClearToken(ctx context.Context) error
}

// Error is a non-2xx response.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

type Client struct {
	baseURL   *url.URL
	http      *http.Client
	transport *bearerTransport
}

// New creates a client for baseURL. Every request carries the stored bearer
// token (if any) and the session cookie; a 401 clears the stored token.
func New(baseURL string, creds Credentials, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported API base URL scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := &bearerTransport{creds: creds, base: http.DefaultTransport}
	return &Client{
		baseURL:   u,
		transport: transport,
		http: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: transport,
		},
	}, nil
}

// OnUnauthorized registers fn to run after a 401 cleared the stored token.
// Set it before the client is shared.
func (c *Client) OnUnauthorized(fn func(ctx context.Context)) {
	c.transport.onUnauthorized = fn
}

// BaseURL returns the API origin.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// LoginURL is where the browser starts the federated login.
func (c *Client) LoginURL() string {
	return c.baseURL.String() + "/oauth2/authorization/google"
}

type bearerTransport struct {
	creds          Credentials
	base           http.RoundTripper
	onUnauthorized func(ctx context.Context)
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rt := t.base
	if t.creds != nil {
		if tok, ok := t.creds.Token(ctx); ok && tok != "" {
			rt = &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}),
				Base:   t.base,
			}
		}
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if t.creds != nil {
		if err := t.creds.ClearToken(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to clear expired token", "error", err)
		} else {
			slog.InfoContext(ctx, "Bearer token rejected, cleared", "path", req.URL.Path)
		}
	}
	if t.onUnauthorized != nil {
		t.onUnauthorized(ctx)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	slog.DebugContext(ctx, "API request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts the message of a JSON error body or falls back to
// the plain text.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "" && body.Error != "":
			return body.Error + ": " + body.Message
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
