package redis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/alanyoungcy/predictx/internal/cache/redis"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return fmt.Sprintf("1-%d", len(b.streamed[stream])), nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestEventPublisherDeliver(t *testing.T) {
	bus := newRecordingBus()
	pub := redis.NewEventPublisher(redis.Wrap(nil, "test:"), bus)
	assert.Equal(t, "test:events", pub.Channel())
	assert.Equal(t, "test:events:stream", pub.Stream())

	inv := uuid.New()
	events := []domain.Event{
		{InvocationID: inv, Index: 0, Name: "MarketCreated", Payload: domain.MarketCreated{MarketID: "1", Question: "q"}},
		{InvocationID: inv, Index: 1, Name: "MarketResolved", Payload: domain.MarketResolved{MarketID: "1", Outcome: true}},
	}
	require.NoError(t, pub.Deliver(context.Background(), events))

	require.Len(t, bus.published["test:events"], 2)
	require.Len(t, bus.streamed["test:events:stream"], 2)

	var rec domain.BusEvent
	require.NoError(t, json.Unmarshal(bus.published["test:events"][1], &rec))
	assert.Equal(t, "1-2", rec.Cursor)
	assert.Equal(t, "MarketResolved", rec.Name)
	assert.Equal(t, "1", rec.MarketID)
	assert.Equal(t, inv, rec.InvocationID)
	assert.JSONEq(t, `{"market_id":"1","outcome":true}`, string(rec.Payload))

	var stored domain.EventRecord
	require.NoError(t, json.Unmarshal(bus.streamed["test:events:stream"][0], &stored))
	assert.Equal(t, "MarketCreated", stored.Name)
	assert.NotContains(t, string(bus.streamed["test:events:stream"][0]), "cursor")
}

func TestClientKey(t *testing.T) {
	c := redis.Wrap(nil, "")
	assert.Equal(t, "predictx:kv:mkt:q:1", c.Key("kv", "mkt:q:1"))
	assert.Equal(t, "predictx:lock:invoke", c.Key("lock", "invoke"))
}
