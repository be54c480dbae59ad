package anthropic

import (
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
)

// APIError carries the HTTP status of a failed API call so callers can
// decide whether to retry.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string { return e.Err.Error() }
func (e *APIError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status of err if it came from the API, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func wrapAPIError(err error, msg string) error {
	wrapped := eris.Wrap(err, msg)
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.StatusCode, Err: wrapped}
	}
	return wrapped
}
