// Package gsheets appends rendered exports to a Google spreadsheet.
package gsheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"savebuddy/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	now           func() time.Time
}

// Options configure NewFromEnv; empty values fall back to the environment.
type Options struct {
	SpreadsheetID string
	SheetName     string
}

// NewFromEnv creates a Sheets client using service account credentials.
// Required: GOOGLE_SPREADSHEET_ID (or opts.SpreadsheetID).
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		spreadsheetID = strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	}
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, opts.SheetName), nil
}

// New wraps an existing service. An empty sheet base uses the record kind's
// label of each export.
func New(svc *gsheet.Service, spreadsheetID, sheetBase string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     strings.TrimSpace(sheetBase),
		now:           time.Now,
	}
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	if ts, ok, err := userTokenSource(ctx); err != nil {
		return nil, err
	} else if ok {
		slog.DebugContext(ctx, "Using OAuth user credentials")
		service, err := gsheet.NewService(ctx, goption.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("create sheets service: %w", err)
		}
		return service, nil
	}

	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		slog.DebugContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.DebugContext(ctx, "Reading service account credentials", "path", serviceAccountFile)
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing credentials (set GOOGLE_OAUTH_CLIENT_FILE with GOOGLE_OAUTH_TOKEN_FILE, or a service account)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// OAuthConfig reads the OAuth client from GOOGLE_OAUTH_CLIENT_JSON or
// GOOGLE_OAUTH_CLIENT_FILE. ok is false when neither is set.
func OAuthConfig() (cfg *oauth2.Config, ok bool, err error) {
	raw, ok, err := envOrFile("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE")
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err = google.ConfigFromJSON(raw, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, true, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, true, nil
}

// userTokenSource builds a refreshing token source from the OAuth client
// and the token saved by savebuddy-login.
func userTokenSource(ctx context.Context) (oauth2.TokenSource, bool, error) {
	cfg, ok, err := OAuthConfig()
	if err != nil || !ok {
		return nil, false, err
	}
	raw, ok, err := envOrFile("GOOGLE_OAUTH_TOKEN_JSON", "GOOGLE_OAUTH_TOKEN_FILE")
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, false, fmt.Errorf("parse oauth token: %w", err)
	}
	return cfg.TokenSource(ctx, &tok), true, nil
}

func envOrFile(jsonKey, fileKey string) ([]byte, bool, error) {
	if v := strings.TrimSpace(os.Getenv(jsonKey)); v != "" {
		return []byte(v), true, nil
	}
	path := strings.TrimSpace(os.Getenv(fileKey))
	if path == "" {
		return nil, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", fileKey, err)
	}
	return b, true, nil
}

// SheetName is the tab an export is appended to: "<year> <base>".
func (c *Client) SheetName(s export.Sheet) string {
	base := c.sheetBase
	if base == "" {
		base = s.Name
	}
	return yearPrefixedName(base, c.now().Year())
}

// Append adds the rows of s below the existing content of its tab. The
// header row is written only when the tab is empty. It returns the updated
// range as reported by the API.
func (c *Client) Append(ctx context.Context, s export.Sheet) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheetName := c.SheetName(s)

	rows, err := c.rowCount(ctx, sheetName)
	if err != nil {
		return "", err
	}
	values := s.Values()
	if rows > 0 {
		values = values[1:]
	}

	rng := fmt.Sprintf("%s!A:G", sheetName)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Export appended to spreadsheet",
		"sheet", sheetName, "rows", len(values), "range", ref)
	return ref, nil
}

func (c *Client) rowCount(ctx context.Context, sheetName string) (int, error) {
	rng := fmt.Sprintf("%s!A:A", sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	return len(resp.Values), nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
