// Package notify sends operator alerts for market lifecycle events. The
// Notifier is an event sink: committed events are turned into short messages,
// queued, and dispatched to every registered sender by a background loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Config controls which events are alerted and how amounts are rendered.
type Config struct {
	Events    []string
	QueueSize int
	Symbol    string
	Decimals  int32
}

type alert struct {
	title   string
	message string
}

// Notifier dispatches alerts to one or more Senders. Only events whose name is
// in the allowed set are forwarded; an empty set allows every event.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	queue    chan alert
	symbol   string
	decimals int32
	logger   *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, cfg Config, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 256
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		queue:    make(chan alert, size),
		symbol:   cfg.Symbol,
		decimals: cfg.Decimals,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Deliver implements domain.EventSink. Alertable events are queued for the Run
// loop; when the queue is full the alert is dropped and logged.
func (n *Notifier) Deliver(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		if !n.allowed(ev.Name) {
			continue
		}
		a, ok := n.format(ev)
		if !ok {
			continue
		}
		select {
		case n.queue <- a:
		default:
			n.logger.WarnContext(ctx, "alert queue full, dropping",
				slog.String("event", ev.Name),
				slog.String("market_id", ev.MarketID()),
			)
		}
	}
	return nil
}

// Run drains the alert queue until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.InfoContext(ctx, "notifier started", slog.Int("senders", len(n.senders)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			// Failures are logged per sender inside dispatch.
			_ = n.dispatch(ctx, a.title, a.message)
		}
	}
}

// Notify sends a notification immediately if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// format renders the alert for an event, or reports false for events that
// are never alerted (token transfers, oracle traffic).
func (n *Notifier) format(ev domain.Event) (alert, bool) {
	var a alert
	switch p := ev.Payload.(type) {
	case domain.MarketCreated:
		a.title = "Market created"
		a.message = fmt.Sprintf("#%s %s\nCategory: %s", p.MarketID, p.Question, p.Category)
	case domain.ResolutionRequested:
		a.title = "Resolution requested"
		a.message = fmt.Sprintf("#%s oracle request %d\n%s", p.MarketID, p.RequestID, p.URL)
	case domain.MarketResolved:
		a.title = "Market resolved"
		a.message = fmt.Sprintf("#%s resolved %s", p.MarketID, strings.ToUpper(domain.SideFromBool(p.Outcome).String()))
	case domain.PayoutDistributed:
		a.title = "Payout"
		a.message = fmt.Sprintf("#%s paid %s to %s", p.MarketID, n.amount(p.Amount), p.Recipient.Hex())
	default:
		return alert{}, false
	}
	return a, true
}

func (n *Notifier) amount(v int64) string {
	s := decimal.New(v, -n.decimals).StringFixed(n.decimals)
	if n.symbol == "" {
		return s
	}
	return s + " " + n.symbol
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.EventSink = (*Notifier)(nil)
