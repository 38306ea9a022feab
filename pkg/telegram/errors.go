package telegram

import (
	"errors"
	"fmt"
)

// ErrMalformedUpdate is returned when a getUpdates payload cannot be decoded.
// Callers treat it like a transport error and retry from the same offset.
var ErrMalformedUpdate = errors.New("telegram: malformed update payload")

// APIError represents a structured Telegram Bot API error response.
type APIError struct {
	ErrorCode   int    // HTTP-level error code from Telegram (e.g., 400, 403, 429)
	Description string // Human-readable error description
	RetryAfter  int    // Seconds to wait before retrying (only for 429)
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram API error %d: %s (retry_after=%ds)", e.ErrorCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram API error %d: %s", e.ErrorCode, e.Description)
}

// IsUnauthorized reports whether the token was rejected (401) or the bot is blocked (403).
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == 401 || apiErr.ErrorCode == 403
	}
	return false
}

// RetryAfter extracts the retry_after seconds from a 429 error, 0 otherwise.
func RetryAfter(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 429 {
		return apiErr.RetryAfter
	}
	return 0
}
