// Package ws streams engine events to websocket clients. A client may filter
// by market and event name and may resume from a stream cursor with
// ?since=<cursor>, in which case retained events are replayed before the live
// feed continues without gaps or duplicates.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Config describes where the hub's events come from and which browser origins
// may connect.
type Config struct {
	Mode      string
	Channel   string // bus channel relayed to clients; empty disables relay
	Stream    string // bus stream used for ?since= replay; empty disables replay
	StartedAt time.Time
	// Origins lists the browser origins allowed to upgrade, matched without
	// regard to case. Empty or "*" allows every origin.
	Origins []string
}

// Hub fans events out to connected clients. Events arrive from the signal bus
// when the engine runs in another process, or through Deliver when the hub is
// registered as a sink on the local executor.
type Hub struct {
	bus       domain.SignalBus
	channel   string
	stream    string
	mode      string
	startedAt time.Time
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	events chan outbound
	join   chan *client
	leave  chan *client
	done   chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. bus may be nil, which disables relay and replay.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	h := &Hub{
		bus:       bus,
		mode:      mode,
		startedAt: started,
		logger:    logger.With(slog.String("component", "ws")),
		events:    make(chan outbound, sendBufferSize),
		join:      make(chan *client),
		leave:     make(chan *client),
		done:      make(chan struct{}),
		clients:   make(map[*client]struct{}),
	}
	if bus != nil {
		h.channel = cfg.Channel
		h.stream = cfg.Stream
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Origins),
	}
	return h
}

// originChecker allows requests without an Origin header (non-browser
// clients), same-host origins and the configured ones.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Run owns client registration and broadcast until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.channel != "" {
		go h.relay(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.shutdown()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.leave:
			h.mu.Lock()
			_, ok := h.clients[c]
			delete(h.clients, c)
			n := len(h.clients)
			h.mu.Unlock()
			if ok {
				c.shutdown()
				h.logger.Info("client disconnected", slog.Int("clients", n))
			}

		case o := <-h.events:
			h.mu.RLock()
			for c := range h.clients {
				c.offer(o)
			}
			h.mu.RUnlock()
		}
	}
}

// Deliver implements domain.EventSink for an in-process executor.
func (h *Hub) Deliver(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		rec, err := ev.Record()
		if err != nil {
			return err
		}
		h.enqueue(ctx, domain.BusEvent{EventRecord: rec})
	}
	return nil
}

func (h *Hub) enqueue(ctx context.Context, ev domain.BusEvent) {
	o, err := newOutbound(frameEvent, ev)
	if err != nil {
		return
	}
	select {
	case h.events <- o:
	case <-ctx.Done():
	default:
		h.logger.Warn("broadcast queue full, dropping event",
			slog.String("event", ev.Name),
			slog.String("market_id", ev.MarketID),
		)
	}
}

// relay forwards events published on the bus channel.
func (h *Hub) relay(ctx context.Context) {
	in, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("relaying bus channel", slog.String("channel", h.channel))

	for data := range in {
		var ev domain.BusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Warn("undecodable bus event", slog.String("error", err.Error()))
			continue
		}
		h.enqueue(ctx, ev)
	}
	if ctx.Err() == nil {
		h.logger.Warn("bus subscription closed", slog.String("channel", h.channel))
	}
}

// HandleWS upgrades the request and attaches a client.
//
//	GET /ws?market=1&event=MarketResolved&since=1718000000000-0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := q.Get("since")
	if since != "" && !validCursor(since) {
		http.Error(w, "invalid since cursor", http.StatusBadRequest)
		return
	}
	if since != "" && h.stream == "" {
		http.Error(w, "replay is not available", http.StatusNotImplemented)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, q["market"], q["event"], since != "")
	select {
	case h.join <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendStatus()

	go c.writePump()
	go c.readPump()
	if since != "" {
		go c.replay(since)
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ domain.EventSink = (*Hub)(nil)
