package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	MarketID string
	Name     string
}

// KVWrite is one entry of an atomic write set.
type KVWrite struct {
	Key    string
	Value  []byte
	Delete bool
}

// KVStore is the persistent key-value store behind the execution runtime.
type KVStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Commit applies every write or none of them. A store that shares a
	// backend with the lock manager refuses the commit with ErrLockHeld when
	// ctx carries a LockFence that no longer matches.
	Commit(ctx context.Context, writes []KVWrite) error
}

// EventSink receives the events of committed invocations.
type EventSink interface {
	Deliver(ctx context.Context, events []Event) error
}

// EventStore persists the emitted event log.
type EventStore interface {
	EventSink
	List(ctx context.Context, opts ListOpts) ([]EventRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EventRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
