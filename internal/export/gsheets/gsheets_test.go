package gsheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"savebuddy/internal/core"
	"savebuddy/internal/export"
)

type fakeSheets struct {
	mu       sync.Mutex
	existing [][]any
	appended [][]any
	ranges   []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var body gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, row := range body.Values {
			f.appended = append(f.appended, row)
		}
		f.ranges = append(f.ranges, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": "2025 절약기록!A1:G5"},
		})
	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"values": f.existing})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	c := New(svc, "sheet-id", "")
	c.now = func() time.Time { return time.Date(2025, 3, 21, 0, 0, 0, 0, time.Local) }
	return c
}

func testSheet(t *testing.T) export.Sheet {
	t.Helper()
	records := []core.Record{
		{ID: 1, ItemName: "커피", Amount: 4500, Category: core.CategoryFood, CreatedAt: core.At(time.Now())},
		{ID: 2, ItemName: "택시", Amount: 12000, Category: core.CategoryTransport, CreatedAt: core.At(time.Now())},
	}
	s, err := export.Build(core.Savings, records, export.Scope{Kind: export.ScopeAll}, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return s
}

func TestAppendWritesHeaderToEmptySheet(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	ref, err := c.Append(context.Background(), testSheet(t))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "2025 절약기록!A1:G5" {
		t.Errorf("unexpected range %q", ref)
	}
	if len(fake.appended) != 4 {
		t.Fatalf("expected header + 2 rows + total, got %d rows", len(fake.appended))
	}
	if fake.appended[0][0] != "번호" {
		t.Errorf("first row should be the header, got %v", fake.appended[0])
	}
	if !strings.Contains(fake.ranges[0], "2025 절약기록!A:G") {
		t.Errorf("unexpected append path %q", fake.ranges[0])
	}
}

func TestAppendSkipsHeaderWhenSheetHasRows(t *testing.T) {
	fake := &fakeSheets{existing: [][]any{{"번호"}, {"1"}}}
	c := newTestClient(t, fake)

	if _, err := c.Append(context.Background(), testSheet(t)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fake.appended) != 3 {
		t.Fatalf("expected 2 rows + total, got %d", len(fake.appended))
	}
	if fake.appended[2][3] != "총 합계" {
		t.Errorf("last row should be the total row, got %v", fake.appended[2])
	}
}

func TestAppendWithoutService(t *testing.T) {
	c := &Client{now: time.Now}
	if _, err := c.Append(context.Background(), testSheet(t)); err == nil {
		t.Fatal("expected error without a service")
	}
}

func TestSheetName(t *testing.T) {
	c := &Client{sheetBase: "", now: func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }}
	s := export.Sheet{Name: "소비기록"}
	if got := c.SheetName(s); got != "2025 소비기록" {
		t.Errorf("got %q", got)
	}
	c.sheetBase = "2024 Archive"
	if got := c.SheetName(s); got != "2024 Archive" {
		t.Errorf("year-prefixed base should be kept, got %q", got)
	}
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	old, had := os.LookupEnv("GOOGLE_SPREADSHEET_ID")
	os.Unsetenv("GOOGLE_SPREADSHEET_ID")
	defer func() {
		if had {
			os.Setenv("GOOGLE_SPREADSHEET_ID", old)
		}
	}()

	_, err := NewFromEnv(context.Background(), Options{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

const testOAuthClient = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestOAuthConfig(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	if _, ok, err := OAuthConfig(); ok || err != nil {
		t.Fatalf("no client configured: ok=%v err=%v", ok, err)
	}

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "invalid-json")
	if _, _, err := OAuthConfig(); err == nil || !strings.Contains(err.Error(), "oauth config") {
		t.Fatalf("expected oauth config error, got %v", err)
	}

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", testOAuthClient)
	cfg, ok, err := OAuthConfig()
	if err != nil || !ok {
		t.Fatalf("OAuthConfig: ok=%v err=%v", ok, err)
	}
	if cfg.ClientID != "test" || len(cfg.Scopes) != 1 || cfg.Scopes[0] != gsheet.SpreadsheetsScope {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestUserTokenSource(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", testOAuthClient)
	t.Setenv("GOOGLE_OAUTH_TOKEN_JSON", "")
	t.Setenv("GOOGLE_OAUTH_TOKEN_FILE", "")
	if _, _, err := userTokenSource(context.Background()); err == nil || !strings.Contains(err.Error(), "missing oauth token") {
		t.Fatalf("expected missing token error, got %v", err)
	}

	path := t.TempDir() + "/token.json"
	if err := os.WriteFile(path, []byte(`{"access_token":"test","token_type":"Bearer","expiry":"2999-01-01T00:00:00Z"}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_OAUTH_TOKEN_FILE", path)
	ts, ok, err := userTokenSource(context.Background())
	if err != nil || !ok {
		t.Fatalf("userTokenSource: ok=%v err=%v", ok, err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "test" {
		t.Errorf("access token = %q, want test", tok.AccessToken)
	}
}
