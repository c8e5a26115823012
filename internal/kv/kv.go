// Package kv defines the asynchronous versioned key-value store the core
// treats as its only durable collaborator (spec.md §6), plus two
// implementations: a sqlite-backed production store and an in-memory fake
// for tests.
package kv

import "context"

// Change is delivered by Subscribe whenever a watched key's value changes.
// Old/New are raw JSON; a nil Old means the key was previously absent, a
// nil New means the key was removed.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Store is the KV collaborator contract from spec.md §6: async get/set/
// remove of versioned JSON blobs, plus a change-subscription stream.
//
// Implementations must tolerate concurrent reads; spec.md §5 requires that
// the core never issue two concurrent writes to the same key, so Store
// does not need to provide read-modify-write atomicity beyond that.
type Store interface {
	// Get returns the raw JSON values currently stored for keys. Missing
	// keys are simply absent from the result map — Get never errors on a
	// missing key.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)

	// Set writes raw JSON values for each key in values.
	Set(ctx context.Context, values map[string][]byte) error

	// Remove deletes the given keys. Removing an absent key is a no-op.
	Remove(ctx context.Context, keys ...string) error

	// Subscribe registers onChange to be called (from an arbitrary
	// goroutine) whenever Set or Remove mutates a key. Callers that care
	// about ordering must synchronize inside onChange themselves.
	Subscribe(onChange func(Change))

	// Close releases underlying resources (file handles, connections).
	Close() error
}

// notFoundError, built by NewNotFoundError, is by convention never
// actually returned by Get (spec.md §6: "Get never errors on a missing
// key") but is exposed for symmetry with BrowserAPI's NotFound variant and
// for implementations layered on top of Store that do want strict lookups.
type notFoundError struct{ key string }

func (e *notFoundError) Error() string { return "kv: key not found: " + e.key }

// NewNotFoundError constructs the sentinel error for a missing key.
func NewNotFoundError(key string) error { return &notFoundError{key: key} }
