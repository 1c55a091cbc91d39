package redis

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictx/internal/domain"
)

var (
	//go:embed scripts/lock_release.lua
	lockReleaseLua string
	//go:embed scripts/lock_extend.lua
	lockExtendLua string
)

// releaseTimeout bounds the DEL issued on unlock, which runs after the
// invocation context may already be done.
const releaseTimeout = 5 * time.Second

// LockManager is a token-fenced SET NX lock. While a lock is held it is
// renewed every third of its TTL, so an invocation that outlives the TTL does
// not let a second engine process into the critical section. A lock whose
// token is gone, or that could not be renewed for a whole TTL, reports itself
// lost.
type LockManager struct {
	c       *Client
	release *redis.Script
	extend  *redis.Script
	logger  *slog.Logger
}

// NewLockManager returns a LockManager on c. logger may be nil.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		c:       c,
		release: redis.NewScript(lockReleaseLua),
		extend:  redis.NewScript(lockExtendLua),
		logger:  logger.With(slog.String("component", "lock")),
	}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	l := &lock{
		lm:    lm,
		name:  key,
		key:   lm.c.Key("lock", key),
		token: uuid.NewString(),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		lost:  make(chan struct{}),
	}
	held, err := lm.c.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !held {
		return nil, domain.ErrLockHeld
	}
	go l.renew()
	return l, nil
}

type lock struct {
	lm         *LockManager
	name, key  string
	token      string
	ttl        time.Duration
	stop, done chan struct{}

	lost     chan struct{}
	lostOnce sync.Once
	released sync.Once
}

func (l *lock) Lost() <-chan struct{} { return l.lost }

func (l *lock) Fence() domain.LockFence {
	return domain.LockFence{Key: l.key, Token: l.token}
}

// Release stops renewal and deletes the key if this holder still owns it.
func (l *lock) Release() {
	l.released.Do(func() {
		close(l.stop)
		<-l.done
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := l.lm.release.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err(); err != nil {
			l.lm.logger.Warn("lock release failed", slog.String("key", l.name), slog.String("error", err.Error()))
		}
	})
}

func (l *lock) markLost() { l.lostOnce.Do(func() { close(l.lost) }) }

// renew extends the lock until stop closes or the lock is lost.
func (l *lock) renew() {
	defer close(l.done)
	every := l.ttl / 3
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	// expires is the latest time the key is known to live until.
	expires := time.Now().Add(l.ttl)
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			sent := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := l.lm.extend.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil && time.Now().Add(every).After(expires):
				l.lm.logger.Error("lock renewal failed past expiry",
					slog.String("key", l.name), slog.String("error", err.Error()))
				l.markLost()
				return
			case err != nil:
				l.lm.logger.Warn("lock renewal failed", slog.String("key", l.name), slog.String("error", err.Error()))
			case n == 0:
				l.lm.logger.Error("lock lost before release", slog.String("key", l.name))
				l.markLost()
				return
			default:
				expires = sent.Add(l.ttl)
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
