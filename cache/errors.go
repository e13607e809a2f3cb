package cache

import "errors"

var (
	// ErrUnknownProvider is returned by Open for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown cache provider")
	// ErrEmptyName is returned when opening a cache without a name.
	ErrEmptyName = errors.New("cache name must not be empty")
	// ErrCacheDeleted is returned when writing through a handle whose cache
	// has been deleted since it was opened. The write is dropped.
	ErrCacheDeleted = errors.New("cache has been deleted")
)
