package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	invokeLockKey     = "invoke"
	lockRetryInterval = 25 * time.Millisecond
)

// Receipt describes a committed invocation.
type Receipt struct {
	InvocationID uuid.UUID      `json:"invocation_id"`
	Events       []domain.Event `json:"events"`
	Result       any            `json:"result,omitempty"`
}

// Observer is notified of every finished invocation.
type Observer interface {
	ObserveInvocation(d time.Duration, err error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the system clock.
func WithClock(c Clock) Option {
	return func(x *Executor) { x.clock = c }
}

// WithSinks registers event sinks that receive events after commit.
func WithSinks(sinks ...domain.EventSink) Option {
	return func(x *Executor) { x.sinks = append(x.sinks, sinks...) }
}

// WithLocker serializes invocations across processes.
func WithLocker(lm domain.LockManager, ttl time.Duration) Option {
	return func(x *Executor) {
		x.locker = lm
		x.lockTTL = ttl
	}
}

// WithObserver registers an invocation observer.
func WithObserver(o Observer) Option {
	return func(x *Executor) { x.observer = o }
}

// Executor runs invocations one at a time against a KVStore. Each invocation
// either commits all of its writes and publishes its events, or leaves no
// trace at all.
type Executor struct {
	store    domain.KVStore
	clock    Clock
	sinks    []domain.EventSink
	locker   domain.LockManager
	lockTTL  time.Duration
	observer Observer
	logger   *slog.Logger

	mu sync.Mutex
}

// NewExecutor creates an Executor over store.
func NewExecutor(store domain.KVStore, logger *slog.Logger, opts ...Option) *Executor {
	x := &Executor{
		store:   store,
		clock:   SystemClock{},
		lockTTL: 10 * time.Second,
		logger:  logger.With(slog.String("component", "runtime")),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Clock returns the executor's clock.
func (x *Executor) Clock() Clock { return x.clock }

// AddSink registers another event sink. It must be called before the executor
// is shared between goroutines.
func (x *Executor) AddSink(s domain.EventSink) {
	x.sinks = append(x.sinks, s)
}

// Invoke runs fn as one atomic invocation. The root context passed to fn
// executes as the invocation sender.
func (x *Executor) Invoke(ctx context.Context, inv Invocation, fn func(ic *Context) (any, error)) (Receipt, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	start := time.Now()

	x.mu.Lock()
	defer x.mu.Unlock()

	// runCtx is cancelled if the distributed lock is lost mid-invocation.
	runCtx := ctx
	var lk domain.Lock
	if x.locker != nil {
		var err error
		if lk, err = x.acquire(ctx); err != nil {
			return Receipt{InvocationID: inv.ID}, err
		}
		defer lk.Release()
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-lk.Lost():
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	f := &frame{
		ctx:     runCtx,
		inv:     inv,
		now:     x.clock.NowMillis(),
		ov:      newOverlay(x.store),
		scratch: make(map[string]int64),
	}
	root := &Context{f: f, caller: inv.Sender, executing: inv.Sender}

	result, err := fn(root)
	if lk != nil && lost(lk) {
		err = fmt.Errorf("runtime: %w: invoke lock lost before commit", domain.ErrLockHeld)
	}
	if err == nil {
		if cerr := x.commit(runCtx, lk, f.ov.mutations()); cerr != nil {
			err = fmt.Errorf("runtime: commit: %w", cerr)
		}
	}
	x.observe(time.Since(start), err)
	if err != nil {
		x.logger.Debug("invocation aborted",
			slog.String("invocation_id", inv.ID.String()),
			slog.String("sender", inv.Sender.Hex()),
			slog.String("error", err.Error()),
		)
		return Receipt{InvocationID: inv.ID}, err
	}

	x.deliver(ctx, f.events)
	return Receipt{InvocationID: inv.ID, Events: f.events, Result: result}, nil
}

// Query runs fn against the committed state. Writes are rejected and nothing
// is ever committed.
func Query[T any](ctx context.Context, x *Executor, fn func(ic *Context) (T, error)) (T, error) {
	f := &frame{
		ctx:      ctx,
		now:      x.clock.NowMillis(),
		readOnly: true,
		ov:       newOverlay(x.store),
		scratch:  make(map[string]int64),
	}
	return fn(&Context{f: f})
}

// QueryAs is Query with the root context executing as contract.
func QueryAs[T any](ctx context.Context, x *Executor, contract common.Address, fn func(ic *Context) (T, error)) (T, error) {
	return Query(ctx, x, func(ic *Context) (T, error) {
		return fn(ic.Call(contract))
	})
}

func (x *Executor) acquire(ctx context.Context) (domain.Lock, error) {
	for {
		lk, err := x.locker.Acquire(ctx, invokeLockKey, x.lockTTL)
		if err == nil {
			return lk, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("runtime: acquire invoke lock: %w", err)
		}
		t := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("runtime: acquire invoke lock: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// commit writes the invocation's mutations, fenced by lk when the store can
// check it.
func (x *Executor) commit(ctx context.Context, lk domain.Lock, writes []domain.KVWrite) error {
	if lk != nil {
		ctx = domain.WithLockFence(ctx, lk.Fence())
	}
	return x.store.Commit(ctx, writes)
}

func lost(lk domain.Lock) bool {
	select {
	case <-lk.Lost():
		return true
	default:
		return false
	}
}

// deliver hands committed events to every sink. Sink failures are logged and
// never undo the commit.
func (x *Executor) deliver(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range x.sinks {
		if err := s.Deliver(ctx, events); err != nil {
			x.logger.Warn("event delivery failed",
				slog.String("invocation_id", events[0].InvocationID.String()),
				slog.Int("events", len(events)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (x *Executor) observe(d time.Duration, err error) {
	if x.observer != nil {
		x.observer.ObserveInvocation(d, err)
	}
}
