package http

import (
	"errors"
	"net/http"
	"strings"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
	"savebuddy/internal/records"
)

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// brief drops the record list from an aggregate.
func brief(info core.RecordInfo) core.RecordInfo {
	return core.RecordInfo{TotalAmount: info.TotalAmount, Count: info.Count}
}

// storeFailure maps a record store error to a response. Validation
// failures never reached the server; a 401 means the session is gone.
func storeFailure(err error, message string) *ResponseBuilder {
	switch {
	case errors.Is(err, records.ErrInvalidInput), errors.Is(err, core.ErrInvalidAmount):
		return UnprocessableEntityError(message)
	case errors.Is(err, api.ErrUnauthorized):
		return ErrorResponse(http.StatusUnauthorized, message)
	case errors.Is(err, api.ErrNotFound):
		return NotFoundError(message)
	}
	return BadGatewayError(message)
}
