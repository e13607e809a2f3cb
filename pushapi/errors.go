package pushapi

import (
	"errors"
	"strconv"
)

var (
	ErrNoToken      = errors.New("authentication token not found")
	ErrUnauthorized = errors.New("session expired")
	ErrInvalidSub   = errors.New("invalid push subscription")
)

// APIError is a non-success answer of the push API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "push api: status " + strconv.Itoa(e.Status)
	}
	return "push api: " + e.Message
}
