package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is the durable key/value contract shared by all backends.
// A zero ttl means the value never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete removes key only while it still holds expected and
	// reports whether it did. An absent key is not an error.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}
