package offlineshell

import "errors"

var (
	// ErrLifecycleOrder is returned for an install or activate event that
	// arrives out of order or a second time.
	ErrLifecycleOrder = errors.New("lifecycle event out of order")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNoActiveWorker = errors.New("no active worker")
	ErrInvalidConfig  = errors.New("invalid config")
)
