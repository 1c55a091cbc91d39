package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayPage entries are read from the stream per request; at most
	// maxReplay are replayed per connection.
	replayPage = 200
	maxReplay  = 5000
)

// Frame types written to clients.
const (
	frameStatus     = "status"
	frameEvent      = "event"
	frameReplay     = "replay"
	frameReplayDone = "replay_done"
)

type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// outbound is an encoded frame plus the fields clients filter on.
type outbound struct {
	cursor   string
	marketID string
	name     string
	data     []byte
}

func newOutbound(typ string, ev domain.BusEvent) (outbound, error) {
	data, err := json.Marshal(frame{Type: typ, Payload: ev})
	if err != nil {
		return outbound{}, err
	}
	return outbound{cursor: ev.Cursor, marketID: ev.MarketID, name: ev.Name, data: data}, nil
}

// subscribeMsg changes a client's filters:
//
//	{"action":"subscribe","markets":["1"],"events":["MarketResolved"]}
type subscribeMsg struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
	Events  []string `json:"events"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	markets map[string]bool // empty matches every market
	names   map[string]bool // empty matches every event
	// While replaying, live events wait in backlog so they are written after
	// the replayed ones. last is the newest cursor written.
	replaying bool
	backlog   []outbound
	last      string
}

func newClient(h *Hub, conn *websocket.Conn, markets, names []string, replay bool) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		markets:   make(map[string]bool),
		names:     make(map[string]bool),
		replaying: replay,
	}
	for _, m := range markets {
		c.markets[m] = true
	}
	for _, n := range names {
		c.names[n] = true
	}
	return c
}

// shutdown stops both pumps and any replay in progress.
func (c *client) shutdown() { c.cancel() }

// offer is called by the hub loop for every live event.
func (c *client) offer(o outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matches(o) {
		return
	}
	if c.replaying {
		if len(c.backlog) < sendBufferSize {
			c.backlog = append(c.backlog, o)
		} else {
			c.hub.logger.Warn("replay backlog full, dropping event", slog.String("event", o.name))
		}
		return
	}
	c.push(o)
}

// push writes o unless it is at or before the last cursor sent. c.mu is held.
func (c *client) push(o outbound) {
	if o.cursor != "" {
		if c.last != "" && !cursorAfter(o.cursor, c.last) {
			return
		}
		c.last = o.cursor
	}
	c.trySend(o.data)
}

func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.hub.logger.Warn("dropping message for slow client")
	}
}

func (c *client) matches(o outbound) bool {
	if len(c.markets) > 0 && !c.markets["*"] && !c.markets[o.marketID] {
		return false
	}
	return len(c.names) == 0 || c.names[o.name]
}

// replay pages retained stream entries after since to the client, then
// flushes the live backlog and switches to live delivery.
func (c *client) replay(since string) {
	h := c.hub
	after, sent, truncated := since, 0, false
	for !truncated {
		msgs, err := h.bus.StreamRead(c.ctx, h.stream, after, replayPage)
		if err != nil {
			if c.ctx.Err() == nil {
				h.logger.Warn("replay read failed", slog.String("after", after), slog.String("error", err.Error()))
			}
			break
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			after = m.ID
			var rec domain.EventRecord
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				continue
			}
			o, err := newOutbound(frameReplay, domain.BusEvent{Cursor: m.ID, EventRecord: rec})
			if err != nil {
				continue
			}
			c.mu.Lock()
			ok := c.matches(o)
			if ok {
				c.last = o.cursor
			}
			c.mu.Unlock()
			if !ok {
				continue
			}
			// Replay blocks on a full buffer instead of dropping.
			select {
			case c.send <- o.data:
			case <-c.ctx.Done():
				return
			}
			if sent++; sent >= maxReplay {
				truncated = true
				break
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	done, _ := json.Marshal(frame{Type: frameReplayDone, Payload: map[string]any{
		"cursor":    after,
		"events":    sent,
		"truncated": truncated,
	}})
	c.trySend(done)
	c.replaying = false
	for _, o := range c.backlog {
		c.push(o)
	}
	c.backlog = nil
}

// readPump applies filter changes sent by the client and detects hangups.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil || msg.Action == "" {
			continue
		}
		c.applyFilter(msg)
		c.sendStatus()
	}
}

func (c *client) applyFilter(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := func(m map[string]bool, k string) { m[k] = true }
	if msg.Action == "unsubscribe" {
		set = func(m map[string]bool, k string) { delete(m, k) }
	} else if msg.Action != "subscribe" {
		return
	}
	for _, k := range msg.Markets {
		set(c.markets, k)
	}
	for _, k := range msg.Events {
		set(c.names, k)
	}
}

// sendStatus reports the connection mode and current filters. It is sent on
// connect and after every filter change.
func (c *client) sendStatus() {
	c.mu.Lock()
	payload := map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
		"markets":        sortedKeys(c.markets),
		"events":         sortedKeys(c.names),
		"replaying":      c.replaying,
	}
	c.mu.Unlock()

	data, err := json.Marshal(frame{Type: frameStatus, Payload: payload})
	if err == nil {
		c.trySend(data)
	}
}

// writePump is the connection's only writer.
func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// validCursor accepts "0" or a stream id of the form <ms>-<seq>.
func validCursor(s string) bool {
	if s == "0" {
		return true
	}
	ms, seq, ok := strings.Cut(s, "-")
	if !ok {
		return false
	}
	_, err1 := strconv.ParseUint(ms, 10, 64)
	_, err2 := strconv.ParseUint(seq, 10, 64)
	return err1 == nil && err2 == nil
}

// cursorAfter reports whether stream id a sorts after b.
func cursorAfter(a, b string) bool {
	am, as := splitCursor(a)
	bm, bs := splitCursor(b)
	if am != bm {
		return am > bm
	}
	return as > bs
}

func splitCursor(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}
