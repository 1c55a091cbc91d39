package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Event channel names, relative to the client key prefix.
const (
	EventsChannel = "events"
	EventsStream  = "events:stream"
)

// EventPublisher implements domain.EventSink by fanning committed events out
// over the signal bus: one pub/sub message per event for live listeners and
// one stream entry for replay.
type EventPublisher struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewEventPublisher creates an EventPublisher on bus using c's key prefix.
func NewEventPublisher(c *Client, bus domain.SignalBus) *EventPublisher {
	return &EventPublisher{
		bus:     bus,
		channel: c.Key(EventsChannel),
		stream:  c.Key(EventsStream),
	}
}

// Channel returns the pub/sub channel events are published on.
func (p *EventPublisher) Channel() string { return p.channel }

// Stream returns the stream events are appended to.
func (p *EventPublisher) Stream() string { return p.stream }

// Deliver appends every event to the stream and then publishes it, tagged
// with its stream id, as a JSON domain.BusEvent.
func (p *EventPublisher) Deliver(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		rec, err := ev.Record()
		if err != nil {
			return fmt.Errorf("redis: encode event %s: %w", ev.Name, err)
		}
		stored, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redis: marshal event %s: %w", ev.Name, err)
		}
		id, err := p.bus.StreamAppend(ctx, p.stream, stored)
		if err != nil {
			return err
		}
		live, err := json.Marshal(domain.BusEvent{Cursor: id, EventRecord: rec})
		if err != nil {
			return fmt.Errorf("redis: marshal event %s: %w", ev.Name, err)
		}
		if err := p.bus.Publish(ctx, p.channel, live); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.EventSink = (*EventPublisher)(nil)
