package domain

import (
	"errors"
	"net/http"
)

// nonRetryableNames and retryableNames mirror the source's explicit
// name-based classification (spec §4.8, §7). Go errors don't carry a
// Python-style class name, so handlers tag a failure with one of these
// labels (ErrorType on the phase row) and Classify consults it.
var nonRetryableNames = map[string]bool{
	"ValidationError":     true,
	"ValueError":          true,
	"FileNotFoundError":   true,
	"InvalidFileFormat":   true,
	"AuthenticationError": true,
	"PermissionDenied":    true,
	"ClientError":         true,
}

var retryableNames = map[string]bool{
	"ConnectionError":     true,
	"Timeout":             true,
	"ReadTimeout":         true,
	"TimeoutError":        true,
	"RateLimitError":      true,
	"ServiceUnavailable":  true,
	"PartialIngestError":  true,
}

// IsRetryableName classifies a failure by its error-type label.
// Unknown labels default to retryable (spec §4.8: "conservative").
func IsRetryableName(errorType string) bool {
	if nonRetryableNames[errorType] {
		return false
	}
	if retryableNames[errorType] {
		return true
	}
	return true
}

// IsRetryableHTTPStatus classifies transport failures by status code:
// any 5xx or 429 is retryable, any other 4xx is not (spec §4.8).
func IsRetryableHTTPStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 {
		return true
	}
	return status < 400
}

// ErrorTypeOf maps a Go error to one of the taxonomy labels above, for
// storage on the phase row's ErrorType column.
func ErrorTypeOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "ValidationError"
	}
	var pe *PartialIngestError
	if errors.As(err, &pe) {
		return "PartialIngestError"
	}
	var re *RateLimitError
	if errors.As(err, &re) {
		return "RateLimitError"
	}
	var he *TransportHTTPError
	if errors.As(err, &he) {
		if IsRetryableHTTPStatus(he.Status) {
			return "ServiceUnavailable"
		}
		return "ClientError"
	}
	switch {
	case errors.Is(err, ErrUnsupportedMIME), errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrNoAudioTrack), errors.Is(err, ErrOAuthTokenMissing),
		errors.Is(err, ErrCorruptDownload):
		return "ValueError"
	case errors.Is(err, ErrTenantMismatch):
		return "ValidationError"
	}
	return "TimeoutError" // unknown errors default to retryable via this label
}
