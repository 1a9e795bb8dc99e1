// Package onetime provides write-once, read-once storage for OIDC login
// state and nonces.
package onetime

import (
	"context"
	"time"
)

const (
	statePrefix = "lti:state:"
	noncePrefix = "lti:nonce:"
)

// Store is a key-value store with per-key TTL and atomic take-and-delete.
// TakeIfPresent must be linearizable: of two concurrent callers for the same
// key at most one observes the value.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TakeIfPresent(ctx context.Context, key string) ([]byte, bool, error)
}

// KeyValueStore adds a non-consuming read for records that are read more
// than once before they expire, such as launch sessions.
type KeyValueStore interface {
	Store
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}
