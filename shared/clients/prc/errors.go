package prc

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means every allowed attempt was answered with 429.
	ErrRateLimited = errors.New("prc rate limited")
	// ErrInvalidServerKey means the game server's key was rejected. Not retryable.
	ErrInvalidServerKey = errors.New("prc server key invalid")
	ErrTimeout          = errors.New("prc request timed out")
)

// APIError is any non-2xx response that is not a 429 or 403.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prc api error: status %d", e.Status)
}
