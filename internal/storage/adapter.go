package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Adapter is the persistence contract the engine requires. The engine is
// storage-implementation-agnostic: values are opaque blobs keyed by string.
// Implementations must treat corrupt stored values as missing rather than
// returning garbage, so the engine can fall back to default state.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
