package engine_test

import (
	"context"
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/alanyoungcy/predictx/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	start = int64(1_700_000_000_000)
	day   = int64(86_400_000)
	fund  = int64(1_000_000_000)
)

var (
	tokenAddr  = common.HexToAddress("0xd2a4cff31913016155e38e474a2c06d08be276cf")
	oracleAddr = common.HexToAddress(oracle.DefaultAddress)
	admin      = common.HexToAddress("0x00000000000000000000000000000000000ad000")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000ca201")
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

func (s *recordingSink) named(name string) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *runtime.ManualClock
	store  *memory.KVStore
	exec   *runtime.Executor
	token  *token.Ledger
	oracle *oracle.Service
	eng    *engine.Engine
	sink   *recordingSink
	logs   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: runtime.NewManualClock(start),
		store: memory.NewKVStore(),
		sink:  &recordingSink{},
		logs:  &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.exec = runtime.NewExecutor(h.store, logger, runtime.WithClock(h.clock), runtime.WithSinks(h.sink))
	h.token = token.New(tokenAddr, admin)
	h.oracle = oracle.NewService(oracleAddr, h.exec, logger)
	h.eng = engine.New(engine.Config{RequestTimeout: time.Hour}, h.token, h.oracle, logger)
	h.token.RegisterReceiver(h.eng.Address(), h.eng)
	h.oracle.RegisterCallback(h.eng.Address(), engine.CallbackMethod, h.eng.OnOracleCallback)

	_, err := h.exec.Invoke(h.ctx, runtime.Invocation{Sender: admin, Signers: []common.Address{admin}}, func(ic *runtime.Context) (any, error) {
		for _, acct := range []common.Address{alice, bob, carol} {
			if err := h.token.Mint(ic, acct, fund); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
	return h
}

// call runs fn inside the engine on behalf of a signed sender.
func (h *harness) call(sender common.Address, fn func(ec *runtime.Context) (any, error)) (runtime.Receipt, error) {
	return h.exec.Invoke(h.ctx, runtime.Invocation{Sender: sender, Signers: []common.Address{sender}}, func(root *runtime.Context) (any, error) {
		return fn(root.Call(h.eng.Address()))
	})
}

// unsigned is call without the sender's witness.
func (h *harness) unsigned(sender common.Address, fn func(ec *runtime.Context) (any, error)) (runtime.Receipt, error) {
	return h.exec.Invoke(h.ctx, runtime.Invocation{Sender: sender}, func(root *runtime.Context) (any, error) {
		return fn(root.Call(h.eng.Address()))
	})
}

func (h *harness) createMarket(resolveIn int64) string {
	h.t.Helper()
	rcpt, err := h.call(alice, func(ec *runtime.Context) (any, error) {
		return h.eng.CreateMarket(ec, domain.MarketParams{
			Question:    "Will it rain?",
			Description: "desc",
			Category:    "Climate",
			ResolveDate: h.clock.NowMillis() + resolveIn,
			OracleURL:   "https://x",
		})
	})
	require.NoError(h.t, err)
	return rcpt.Result.(string)
}

func (h *harness) deposit(payer common.Address, amount int64, tag string) error {
	var data []byte
	if tag != "" {
		data = []byte(tag)
	}
	_, err := h.exec.Invoke(h.ctx, runtime.Invocation{Sender: payer, Signers: []common.Address{payer}}, func(root *runtime.Context) (any, error) {
		return nil, h.token.Transfer(root, payer, h.eng.Address(), amount, data)
	})
	return err
}

func (h *harness) buy(trader common.Address, id string, side domain.Side, amount int64) error {
	_, err := h.call(trader, func(ec *runtime.Context) (any, error) {
		if side == domain.SideYes {
			return nil, h.eng.BuyYes(ec, id, amount)
		}
		return nil, h.eng.BuyNo(ec, id, amount)
	})
	return err
}

func (h *harness) depositAndBuy(trader common.Address, id string, side domain.Side, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.deposit(trader, amount, id+"_"+side.String()))
	require.NoError(h.t, h.buy(trader, id, side, amount))
}

func (h *harness) market(id string) domain.Market {
	h.t.Helper()
	m, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (domain.Market, error) {
		m, ok, err := h.eng.GetMarket(ic, id)
		require.True(h.t, ok, "market %s", id)
		return m, err
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) pending(payer common.Address, id string, side domain.Side) int64 {
	h.t.Helper()
	n, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (int64, error) {
		return h.eng.PendingCredit(ic, payer, id, side)
	})
	require.NoError(h.t, err)
	return n
}

func (h *harness) shares(user common.Address, id string, side domain.Side) int64 {
	h.t.Helper()
	n, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (int64, error) {
		return h.eng.UserShares(ic, id, user, side)
	})
	require.NoError(h.t, err)
	return n
}

func (h *harness) balance(acct common.Address) int64 {
	h.t.Helper()
	n, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (int64, error) {
		return h.token.BalanceOf(ic, acct)
	})
	require.NoError(h.t, err)
	return n
}

func (h *harness) probability(id string) int64 {
	h.t.Helper()
	n, err := runtime.QueryAs(h.ctx, h.exec, h.eng.Address(), func(ic *runtime.Context) (int64, error) {
		return h.eng.Probability(ic, id)
	})
	require.NoError(h.t, err)
	return n
}

func (h *harness) requestResolve(id string) (uint64, error) {
	rcpt, err := h.call(bob, func(ec *runtime.Context) (any, error) {
		return h.eng.RequestResolve(ec, id, "", "", 0)
	})
	if err != nil {
		return 0, err
	}
	return rcpt.Result.(uint64), nil
}

// resolve moves past the deadline and answers the oracle request.
func (h *harness) resolve(id string, outcome string) {
	h.t.Helper()
	m := h.market(id)
	if h.clock.NowMillis() < m.ResolveDate {
		h.clock.Set(m.ResolveDate)
	}
	reqID, err := h.requestResolve(id)
	require.NoError(h.t, err)
	_, err = h.oracle.Fulfill(h.ctx, reqID, oracle.Success, []byte(`{"outcome":"`+outcome+`"}`))
	require.NoError(h.t, err)
}

// callback invokes the oracle callback directly as sender.
func (h *harness) callback(sender common.Address, userData string, code oracle.Code, result string) error {
	_, err := h.exec.Invoke(h.ctx, runtime.Invocation{Sender: sender, Signers: []common.Address{sender}}, func(root *runtime.Context) (any, error) {
		return nil, h.eng.OnOracleCallback(root.Call(h.eng.Address()), "https://x", []byte(userData), code, []byte(result))
	})
	return err
}
