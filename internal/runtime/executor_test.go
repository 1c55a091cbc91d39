package runtime_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	contract = common.HexToAddress("0x00000000000000000000000000000000c0ffee00")
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Deliver(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

type ping struct{ N int }

func (ping) EventName() string { return "Ping" }

func newExecutor(t *testing.T, opts ...runtime.Option) (*runtime.Executor, *memory.KVStore, *recordingSink) {
	t.Helper()
	store := memory.NewKVStore()
	sink := &recordingSink{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]runtime.Option{runtime.WithSinks(sink), runtime.WithClock(runtime.NewManualClock(1_000))}, opts...)
	return runtime.NewExecutor(store, logger, opts...), store, sink
}

func TestInvokeCommitsWritesAndEvents(t *testing.T) {
	x, store, sink := newExecutor(t)
	ctx := context.Background()

	rcpt, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		require.NoError(t, ic.PutInt("counter", 7))
		ic.Emit(ping{N: 1})
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", rcpt.Result)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, "Ping", rcpt.Events[0].Name)
	assert.Equal(t, alice, rcpt.Events[0].Contract)
	assert.Equal(t, int64(1_000), rcpt.Events[0].Timestamp)

	v, ok, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("7"), v)
	assert.Len(t, sink.events, 1)
}

func TestInvokeFailureLeavesNoTrace(t *testing.T) {
	x, store, sink := newExecutor(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		require.NoError(t, ic.PutString("k", "v"))
		ic.Emit(ping{})
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, sink.events)
}

func TestOverlayReadYourWrites(t *testing.T) {
	x, _, _ := newExecutor(t)

	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		require.NoError(t, ic.PutInt("n", 3))
		n, err := ic.GetInt("n")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		require.NoError(t, ic.Delete("n"))
		ok, err := ic.Has("n")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestNestedCallIdentity(t *testing.T) {
	x, _, _ := newExecutor(t)
	bob := common.HexToAddress("0xb0b")

	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		assert.Equal(t, alice, ic.Caller())
		assert.Equal(t, alice, ic.Sender())

		cc := ic.Call(contract)
		assert.Equal(t, alice, cc.Caller())
		assert.Equal(t, contract, cc.Executing())
		assert.True(t, cc.CheckWitness(alice))
		assert.False(t, cc.CheckWitness(bob))

		inner := cc.Call(bob)
		assert.Equal(t, contract, inner.Caller())
		assert.True(t, inner.CheckWitness(contract))
		assert.Equal(t, ic.InvocationID(), inner.InvocationID())

		inner.Emit(ping{N: 2})
		return nil, nil
	})
	require.NoError(t, err)
}

func TestScratchIsInvocationScoped(t *testing.T) {
	x, _, _ := newExecutor(t)
	ctx := context.Background()

	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		ic.Scratch()["marker"] = 5
		assert.Equal(t, int64(5), ic.Call(contract).Scratch()["marker"])
		return nil, nil
	})
	require.NoError(t, err)

	_, err = x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		_, ok := ic.Scratch()["marker"]
		assert.False(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestQueryIsReadOnly(t *testing.T) {
	x, store, _ := newExecutor(t)
	ctx := context.Background()

	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		return nil, ic.PutInt("n", 1)
	})
	require.NoError(t, err)

	n, err := runtime.Query(ctx, x, func(ic *runtime.Context) (int64, error) {
		return ic.GetInt("n")
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = runtime.Query(ctx, x, func(ic *runtime.Context) (any, error) {
		return nil, ic.PutInt("n", 2)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	v, _, _ := store.Get(ctx, "n")
	assert.Equal(t, []byte("1"), v)
}

type countingLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
	current  *fakeLock
}

func (l *countingLocker) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	l.acquired++
	l.current = &fakeLock{owner: l, key: key, lost: make(chan struct{})}
	return l.current, nil
}

type fakeLock struct {
	owner *countingLocker
	key   string
	lost  chan struct{}
	once  sync.Once
}

func (f *fakeLock) Lost() <-chan struct{} { return f.lost }

func (f *fakeLock) Fence() domain.LockFence {
	return domain.LockFence{Key: f.key, Token: "t"}
}

func (f *fakeLock) Release() {
	f.once.Do(func() {
		f.owner.mu.Lock()
		f.owner.held = false
		f.owner.mu.Unlock()
	})
}

func (f *fakeLock) expire() { close(f.lost) }

// fenceStore records the fence each commit carried.
type fenceStore struct {
	*memory.KVStore
	fences []domain.LockFence
}

func (s *fenceStore) Commit(ctx context.Context, writes []domain.KVWrite) error {
	f, _ := domain.LockFenceFrom(ctx)
	s.fences = append(s.fences, f)
	return s.KVStore.Commit(ctx, writes)
}

func TestInvokeTakesDistributedLock(t *testing.T) {
	lk := &countingLocker{}
	x, _, _ := newExecutor(t, runtime.WithLocker(lk, time.Second))

	for i := 0; i < 3; i++ {
		_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, lk.acquired)
	assert.False(t, lk.held)
}

func TestInvokeLockWaitHonoursContext(t *testing.T) {
	lk := &countingLocker{held: true}
	x, _, _ := newExecutor(t, runtime.WithLocker(lk, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		t.Fatal("must not run without the lock")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvokeCommitCarriesLockFence(t *testing.T) {
	lk := &countingLocker{}
	store := &fenceStore{KVStore: memory.NewKVStore()}
	x := runtime.NewExecutor(store, slog.New(slog.NewJSONHandler(io.Discard, nil)), runtime.WithLocker(lk, time.Second))

	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		return nil, ic.PutInt("n", 1)
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.LockFence{{Key: "invoke", Token: "t"}}, store.fences)
}

func TestInvokeAbortsWhenLockLost(t *testing.T) {
	lk := &countingLocker{}
	x, store, sink := newExecutor(t, runtime.WithLocker(lk, time.Second))
	ctx := context.Background()

	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		require.NoError(t, ic.PutInt("n", 1))
		ic.Emit(ping{})
		lk.current.expire()
		select {
		case <-ic.Context().Done():
		case <-time.After(time.Second):
			t.Error("invocation context survived the lost lock")
		}
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, ok, err := store.Get(ctx, "n")
	require.NoError(t, err)
	assert.False(t, ok, "nothing commits after the lock is lost")
	assert.Empty(t, sink.events)
	assert.False(t, lk.held)

	_, err = x.Invoke(ctx, runtime.Invocation{Sender: alice}, func(ic *runtime.Context) (any, error) {
		return nil, ic.PutInt("n", 2)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, lk.acquired)
}
