// Package store provides the hierarchical key-path JSON store the
// multiplayer layer synchronizes through: point reads and writes,
// multi-path updates with last-write-wins semantics per path, and
// subscriptions that deliver the full subtree value on every change.
package store

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable reports that the store cannot be reached. Callers are
	// expected to fail closed rather than simulate multiplayer locally.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrPermissionDenied reports a write rejected by the store's access
	// rules. It is surfaced to the caller and never retried automatically.
	ErrPermissionDenied = errors.New("store: permission denied")

	// ErrClosed reports an operation on a closed store handle.
	ErrClosed = errors.New("store: closed")
)

// Store is the remote synchronized store contract. Paths are
// slash-separated ("rooms/abc/players/p1/life"). Values are JSON-shaped:
// map[string]any, []any, string, float64, bool or nil. Writing nil at a
// path deletes it.
type Store interface {
	// Read returns the value at path, or nil if the path is absent.
	Read(ctx context.Context, path string) (any, error)

	// Write replaces the full value at path. A nil value deletes the path.
	Write(ctx context.Context, path string, value any) error

	// Update applies all path/value pairs in one call. Each path is
	// replaced independently (last write wins per path); nil deletes.
	Update(ctx context.Context, values map[string]any) error

	// Subscribe registers fn to receive the full subtree value at path,
	// once immediately and then on every change, until unsubscribed.
	// Deliveries to one subscriber are ordered.
	Subscribe(path string, fn func(value any)) (Subscription, error)

	// Close releases the handle. Subscriptions are cancelled.
	Close() error
}

// Subscription is the handle returned by Store.Subscribe.
type Subscription interface {
	Unsubscribe()
}
