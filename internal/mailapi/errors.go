package mailapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidFolder    = errors.New("invalid folder")
	ErrInvalidReadLimit = errors.New("invalid read limit")
	ErrEmptyToken       = errors.New("empty token in response")
)

// APIError is a non-success response from the remote mail service.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
}

func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

// IsRefused reports whether the service answered with a 4xx status, as
// opposed to failing with a 5xx or not answering at all.
func IsRefused(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < http.StatusInternalServerError
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
