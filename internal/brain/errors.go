package brain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// FieldError is one entry of a request validation failure.
// Loc holds path segments, each a string (field name) or a number (index).
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// Path joins the location segments with dots, e.g. "body.keywords".
func (e FieldError) Path() string {
	parts := make([]string, 0, len(e.Loc))
	for _, seg := range e.Loc {
		switch v := seg.(type) {
		case string:
			parts = append(parts, v)
		case float64:
			parts = append(parts, strconv.FormatInt(int64(v), 10))
		case int:
			parts = append(parts, strconv.Itoa(v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ".")
}

// ValidationError is returned when the backend rejects the shape of a request.
type ValidationError struct {
	Detail []FieldError `json:"detail"`
}

func (e *ValidationError) Error() string {
	if len(e.Detail) == 0 {
		return "request validation failed"
	}
	msgs := make([]string, 0, len(e.Detail))
	for _, d := range e.Detail {
		msgs = append(msgs, fmt.Sprintf("%s: %s", d.Path(), d.Msg))
	}
	return "request validation failed: " + strings.Join(msgs, "; ")
}

// APIError is any other non-2xx response from the backend.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %s %s (status: %d)", e.Method, e.URL, e.StatusCode)
}

// parseValidationError decodes a 422 body. It returns nil if the body does
// not carry a validation detail list.
func parseValidationError(status int, body []byte) *ValidationError {
	if status != http.StatusUnprocessableEntity || len(body) == 0 {
		return nil
	}
	var verr ValidationError
	if err := json.Unmarshal(body, &verr); err != nil || len(verr.Detail) == 0 {
		return nil
	}
	return &verr
}
