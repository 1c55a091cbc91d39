package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// DefaultStreamMaxLen caps the event stream (XADD MAXLEN ~).
const DefaultStreamMaxLen int64 = 10000

const (
	payloadField  = "payload"
	subscriberBuf = 128
)

// SignalBus is the Redis domain.SignalBus: PUBLISH/SUBSCRIBE for live fan-out
// and a trimmed stream for replay.
type SignalBus struct {
	c      *Client
	maxLen int64
}

// NewSignalBus returns a SignalBus on c. maxLen <= 0 selects
// DefaultStreamMaxLen.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &SignalBus{c: c, maxLen: maxLen}
}

// Publish sends payload to every current subscriber of channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, so a Publish issued
// afterwards is guaranteed to be seen.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuf)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream, trimming it to roughly maxLen entries.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: append %s: %w", stream, err)
	}
	return id, nil
}

// StreamRead pages through stream after afterID. It never blocks; an empty
// result means the reader is caught up.
func (b *SignalBus) StreamRead(ctx context.Context, stream, afterID string, count int) ([]domain.StreamMessage, error) {
	if afterID == "" {
		afterID = "0"
	}
	// XRANGE with an exclusive start ("(" prefix) pages without re-reading
	// the last entry.
	start := "-"
	if afterID != "0" && afterID != "0-0" {
		start = "(" + afterID
	}
	entries, err := b.c.rdb.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: read %s after %s: %w", stream, afterID, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		var data []byte
		switch v := e.Values[payloadField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.StreamMessage{ID: e.ID, Payload: data})
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
