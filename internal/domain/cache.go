package domain

import (
	"context"
	"time"
)

// RateLimiter counts hits per key over a trailing window shared by every API
// process.
type RateLimiter interface {
	// Allow records one hit on key and reports whether it is within limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out TTL-bounded locks shared between engine processes.
// Acquire fails with ErrLockHeld when another holder has key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. Lost is closed once the holder can no longer be sure it
// owns the key, after which nothing computed under the lock may be committed.
// Release frees the key; repeated calls are no-ops.
type Lock interface {
	Lost() <-chan struct{}
	Fence() LockFence
	Release()
}

// LockFence identifies a lock holder to a store that can check ownership in
// the same transaction as a commit.
type LockFence struct {
	Key   string
	Token string
}

type lockFenceKey struct{}

// WithLockFence returns a context carrying f for KVStore.Commit.
func WithLockFence(ctx context.Context, f LockFence) context.Context {
	return context.WithValue(ctx, lockFenceKey{}, f)
}

// LockFenceFrom returns the fence set by WithLockFence, if any.
func LockFenceFrom(ctx context.Context) (LockFence, bool) {
	f, ok := ctx.Value(lockFenceKey{}).(LockFence)
	return f, ok && f.Key != ""
}

// StreamMessage is one stream entry. IDs increase along the stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus moves committed events between processes: a pub/sub channel for
// live listeners and a capped stream that can be replayed from a cursor.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// StreamAppend adds payload to stream and returns the new entry id.
	StreamAppend(ctx context.Context, stream string, payload []byte) (string, error)
	// StreamRead returns up to count entries after afterID; "0" starts at the
	// oldest retained entry.
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}

// BusEvent is an event record as carried on the signal bus. Cursor is the
// stream entry id, empty when the event never passed through a stream.
type BusEvent struct {
	Cursor string `json:"cursor,omitempty"`
	EventRecord
}
