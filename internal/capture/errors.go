package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType tags an ErrorDetails variant.
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeInternal   ErrorType = "internal"
)

// ErrorDetails is the structured form of a capture failure. Exactly one
// variant applies; the variant-specific fields are zero for the others.
type ErrorDetails struct {
	Type           ErrorType `json:"type"`
	Message        string    `json:"message"`
	HTTPStatusCode int       `json:"http_status_code,omitempty"`
	HTTPStatusText string    `json:"http_status_text,omitempty"`
	TimeoutMs      int       `json:"timeout_ms,omitempty"`
}

// httpStatusText maps status codes to their reason phrase when the browser
// transport did not supply one. Unknown codes render as "HTTP {code}".
var httpStatusText = map[int]string{
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	429: "Too Many Requests",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the fallback reason phrase for an HTTP status code, or
// the empty string for codes outside the table.
func StatusText(code int) string {
	return httpStatusText[code]
}

// NewHTTPError builds the http variant. When text is empty the fallback
// table supplies the reason phrase.
func NewHTTPError(code int, text string) *ErrorDetails {
	if text == "" {
		text = StatusText(code)
	}
	msg := fmt.Sprintf("HTTP %d", code)
	if text != "" {
		msg = fmt.Sprintf("HTTP %d %s", code, text)
	}
	return &ErrorDetails{
		Type:           ErrorTypeHTTP,
		Message:        msg,
		HTTPStatusCode: code,
		HTTPStatusText: text,
	}
}

// NewTimeoutError builds the timeout variant for an operation bounded by ms.
func NewTimeoutError(ms int, op string) *ErrorDetails {
	return &ErrorDetails{
		Type:      ErrorTypeTimeout,
		Message:   fmt.Sprintf("%s exceeded timeout (%dms)", op, ms),
		TimeoutMs: ms,
	}
}

// NewConnectionError builds the connection variant.
func NewConnectionError(reason string) *ErrorDetails {
	return &ErrorDetails{Type: ErrorTypeConnection, Message: reason}
}

// NewInternalError builds the internal variant.
func NewInternalError(msg string) *ErrorDetails {
	return &ErrorDetails{Type: ErrorTypeInternal, Message: msg}
}

// timeoutMsPattern extracts the millisecond bound from messages like
// "navigation exceeded timeout (30000ms)".
var timeoutMsPattern = regexp.MustCompile(`\((\d+)ms\)`)

// FromError classifies an arbitrary failure into ErrorDetails.
//
// context.DeadlineExceeded is the typed signal for a lost wall-clock race;
// the "Timeout" substring match is the fallback for errors surfaced by the
// CDP library as plain text. Session loss is likewise detected by the
// "disconnect"/"closed" substrings the library uses.
func FromError(err error) *ErrorDetails {
	msg := err.Error()

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "Timeout") {
		d := &ErrorDetails{Type: ErrorTypeTimeout, Message: msg}
		if m := timeoutMsPattern.FindStringSubmatch(msg); m != nil {
			if ms, convErr := strconv.Atoi(m[1]); convErr == nil {
				d.TimeoutMs = ms
			}
		}
		return d
	}

	if strings.Contains(msg, "disconnect") || strings.Contains(msg, "closed") {
		return &ErrorDetails{Type: ErrorTypeConnection, Message: msg}
	}

	return &ErrorDetails{Type: ErrorTypeInternal, Message: msg}
}

// IndicatesDisconnect reports whether a failure message suggests the browser
// session dropped mid-operation. Workers entering this condition stop
// dispatching.
func IndicatesDisconnect(msg string) bool {
	return strings.Contains(msg, "disconnect") || strings.Contains(msg, "closed")
}
