package delivery

import (
	"errors"
	"fmt"
)

// ErrOffline is returned when the collector is considered unreachable,
// either because the host reported no connectivity or the breaker is open.
var ErrOffline = errors.New("collector offline")

// APIError is a non-2xx response from the collector.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("collector error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("collector error: %s", e.Message)
}

// Permanent reports whether retrying cannot help.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ConnectionError is a transport-level failure: DNS, refused
// connections, timeouts, truncated bodies.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
