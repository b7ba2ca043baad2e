package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"savebuddy/internal/core"
	"savebuddy/internal/export"
)

// maxBodyBytes bounds page request bodies.
const maxBodyBytes = 64 << 10

var (
	errMissingField = errors.New("missing field")

	// ErrMalformedBody is returned when a body is neither JSON nor form data.
	ErrMalformedBody = errors.New("malformed request body")
)

// RequestBodyParser reads a body once and serves fields from it, whether it
// was sent as JSON or form-encoded.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser reads up to maxBodyBytes of r's body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}
	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		p.err = json.Unmarshal(p.body, &p.jsonData)
		return p.err
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Int64 parses key as an integer; a missing key is errMissingField.
func (p *RequestBodyParser) Int64(key string) (int64, error) {
	v := p.Get(key)
	if v == "" {
		return 0, fmt.Errorf("%w: %s", errMissingField, key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseRecordInput reads a record submission. The amount accepts the
// grouped form users type ("4,500"); validation is left to the store.
func ParseRecordInput(p *RequestBodyParser, userID int64) (core.RecordInput, error) {
	if err := p.Parse(); err != nil {
		return core.RecordInput{}, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	in := core.RecordInput{
		UserID:   userID,
		ItemName: p.Get("itemName"),
		Category: core.Category(p.Get("category")),
		Memo:     p.Get("memo"),
	}
	if raw := p.Get("amount"); raw != "" {
		amount, err := core.ParseWon(raw)
		if err != nil {
			return core.RecordInput{}, err
		}
		in.Amount = amount
	}
	return in, nil
}

// ParseKind maps the {kind} path segment to a record kind.
func ParseKind(s string) (core.RecordKind, bool) {
	k := core.RecordKind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// ParseExportScope reads scope, from, to and category query parameters.
// Period bounds are calendar days in loc; to covers its whole day.
func ParseExportScope(q url.Values, loc *time.Location) (export.Scope, error) {
	scope := export.Scope{Kind: export.ScopeKind(strings.TrimSpace(q.Get("scope")))}
	if scope.Kind == "" {
		scope.Kind = export.ScopeAll
	}

	switch scope.Kind {
	case export.ScopePeriod:
		from, err := parseDay(q.Get("from"), loc)
		if err != nil {
			return export.Scope{}, fmt.Errorf("from: %w", err)
		}
		to, err := parseDay(q.Get("to"), loc)
		if err != nil {
			return export.Scope{}, fmt.Errorf("to: %w", err)
		}
		scope.From = from
		scope.To = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	case export.ScopeCategory:
		scope.Category = core.Category(sanitizeInput(q.Get("category")))
	}
	return scope, scope.Validate()
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
}

// ParseLimit reads a positive "limit" query value, falling back to def.
func ParseLimit(q url.Values, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit")))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
