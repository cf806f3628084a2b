package davsdk

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoServerURL    = errors.New("davsdk: server url missing")
	ErrUnauthorized   = errors.New("davsdk: unauthorized")
	ErrNotFound       = errors.New("davsdk: not found")
	ErrNotCollection  = errors.New("davsdk: not a collection")
	ErrInvalidListing = errors.New("davsdk: invalid multistatus response")
)

// StatusError is returned when the server answers with an unexpected status code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("davsdk: %s %q: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap maps well known status codes onto the sentinel errors so callers can
// use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}
