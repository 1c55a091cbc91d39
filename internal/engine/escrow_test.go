package engine_test

import (
	"strings"
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositThenBuyConsumesExactly(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.deposit(alice, 100_000_000, "1_yes"))
	assert.Equal(t, int64(100_000_000), h.pending(alice, id, domain.SideYes))

	require.NoError(t, h.buy(alice, id, domain.SideYes, 100_000_000))
	assert.Zero(t, h.pending(alice, id, domain.SideYes))
	assert.Equal(t, int64(100_000_000), h.shares(alice, id, domain.SideYes))
	assert.Equal(t, int64(100_000_000), h.market(id).YesShares)
	assert.Equal(t, int64(10_000), h.probability(id))
	assert.Equal(t, int64(100_000_000), h.balance(h.eng.Address()))

	trades := h.sink.named("TradeExecuted")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeExecuted{MarketID: "1", Trader: alice, IsYes: true, Amount: 100_000_000}, trades[0].Payload)
}

func TestResidualPendingCreditPersists(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.deposit(bob, 500, "1_no"))
	require.NoError(t, h.buy(bob, id, domain.SideNo, 200))
	assert.Equal(t, int64(300), h.pending(bob, id, domain.SideNo))

	// A later, separate invocation spends the residual without pulling.
	require.NoError(t, h.buy(bob, id, domain.SideNo, 300))
	assert.Zero(t, h.pending(bob, id, domain.SideNo))
	assert.Equal(t, int64(500), h.shares(bob, id, domain.SideNo))
	assert.Equal(t, fund-500, h.balance(bob))
}

func TestDepositAndBuyInOneInvocation(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	_, err := h.call(alice, func(ec *runtime.Context) (any, error) {
		if err := h.token.Transfer(ec.Call(alice), alice, h.eng.Address(), 70, engine.RoutingTag(id, domain.SideYes)); err != nil {
			return nil, err
		}
		assert.Equal(t, 1, countBatchMarkers(ec))
		if err := h.eng.BuyYes(ec, id, 70); err != nil {
			return nil, err
		}
		assert.Zero(t, countBatchMarkers(ec))
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, h.pending(alice, id, domain.SideYes))
	assert.Equal(t, int64(70), h.shares(alice, id, domain.SideYes))
	assert.Contains(t, h.logs.String(), `"msg":"credit consumed"`)
	assert.Contains(t, h.logs.String(), `"same_invocation":70,"carried":0`)
}

func TestConsumeSplitsCarriedAndSameBatchCredit(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	require.NoError(t, h.deposit(alice, 30, string(engine.RoutingTag(id, domain.SideYes))))

	_, err := h.call(alice, func(ec *runtime.Context) (any, error) {
		if err := h.token.Transfer(ec.Call(alice), alice, h.eng.Address(), 50, engine.RoutingTag(id, domain.SideYes)); err != nil {
			return nil, err
		}
		if err := h.eng.BuyYes(ec, id, 60); err != nil {
			return nil, err
		}
		// Credit from this batch is spent first.
		assert.Zero(t, countBatchMarkers(ec))
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.pending(alice, id, domain.SideYes))
	assert.Contains(t, h.logs.String(), `"amount":60,"same_invocation":50,"carried":10`)
}

func countBatchMarkers(ic *runtime.Context) int {
	n := 0
	for k := range ic.Scratch() {
		if strings.HasPrefix(k, "esc:batch:") {
			n++
		}
	}
	return n
}

func TestBuyPullsFromWitnessedPayer(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.buy(carol, id, domain.SideYes, 250))
	assert.Equal(t, int64(250), h.shares(carol, id, domain.SideYes))
	assert.Zero(t, h.pending(carol, id, domain.SideYes))
	assert.Equal(t, fund-250, h.balance(carol))
}

func TestBuyWithPartialCreditPullsFullAmount(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.deposit(alice, 40, "1_yes"))
	require.NoError(t, h.buy(alice, id, domain.SideYes, 100))
	assert.Equal(t, int64(100), h.shares(alice, id, domain.SideYes))
	assert.Equal(t, int64(40), h.pending(alice, id, domain.SideYes))
	assert.Equal(t, fund-140, h.balance(alice))
}

func TestBuyInsufficientPayment(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	// No witness: the pull transfer is refused.
	_, err := h.unsigned(alice, func(ec *runtime.Context) (any, error) {
		return nil, h.eng.BuyYes(ec, id, 10)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)

	// Witnessed but short of funds.
	err = h.buy(alice, id, domain.SideYes, fund+1)
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)

	assert.Zero(t, h.market(id).YesShares)
	assert.Equal(t, fund, h.balance(alice))
	assert.Empty(t, h.sink.named("TradeExecuted"))
}

func TestBuyPreconditions(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	assert.ErrorIs(t, h.buy(alice, id, domain.SideYes, 0), domain.ErrInvalidArgument)
	assert.ErrorIs(t, h.buy(alice, id, domain.SideNo, -5), domain.ErrInvalidArgument)
	assert.ErrorIs(t, h.buy(alice, "9", domain.SideYes, 1), domain.ErrNotFound)
}

func TestBuyAfterDeadlineFails(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.depositAndBuy(alice, id, domain.SideYes, 10)

	h.clock.Set(start + day)
	err := h.buy(alice, id, domain.SideYes, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, int64(10), h.market(id).YesShares)
	assert.Equal(t, int64(10), h.shares(alice, id, domain.SideYes))
}

func TestBuyOnResolvedMarketFails(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.depositAndBuy(alice, id, domain.SideYes, 10)
	h.resolve(id, "yes")

	assert.ErrorIs(t, h.buy(alice, id, domain.SideYes, 1), domain.ErrAlreadyResolved)
	assert.ErrorIs(t, h.deposit(alice, 1, "1_yes"), domain.ErrAlreadyResolved)
}

func TestRoutingTagRejections(t *testing.T) {
	h := newHarness(t)
	h.createMarket(day)

	for _, tag := range []string{"1_maybe", "x_yes", "1yes", "01_yes", "0_no", "_yes", "1_", "\xff_yes"} {
		err := h.deposit(alice, 10, tag)
		assert.ErrorIs(t, err, domain.ErrInvalidFormat, tag)
	}
	assert.ErrorIs(t, h.deposit(alice, 10, "7_yes"), domain.ErrNotFound)

	// Rejected deposits never move tokens.
	assert.Equal(t, fund, h.balance(alice))
	assert.Zero(t, h.balance(h.eng.Address()))
}

func TestRoutingTagIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.deposit(alice, 10, "1_YES"))
	require.NoError(t, h.deposit(alice, 5, "1_No"))
	assert.Equal(t, int64(10), h.pending(alice, id, domain.SideYes))
	assert.Equal(t, int64(5), h.pending(alice, id, domain.SideNo))
}

func TestUnroutedDepositRecordsNoCredit(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	require.NoError(t, h.deposit(alice, 10, ""))
	assert.Equal(t, int64(10), h.balance(h.eng.Address()))
	assert.Zero(t, h.pending(alice, id, domain.SideYes))
	assert.Zero(t, h.pending(alice, id, domain.SideNo))
}

func TestReceiptHookOnlyTrustsToken(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	_, err := h.call(alice, func(ec *runtime.Context) (any, error) {
		return nil, h.eng.OnTokensReceived(ec, alice, 1_000, []byte("1_yes"))
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, h.pending(alice, id, domain.SideYes))
}

func TestReclaimCredit(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	require.NoError(t, h.deposit(bob, 80, "1_yes"))

	rcpt, err := h.call(bob, func(ec *runtime.Context) (any, error) {
		return h.eng.ReclaimCredit(ec, id, domain.SideYes)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80), rcpt.Result)
	assert.Equal(t, fund, h.balance(bob))
	assert.Zero(t, h.pending(bob, id, domain.SideYes))

	_, err = h.call(bob, func(ec *runtime.Context) (any, error) {
		return h.eng.ReclaimCredit(ec, id, domain.SideYes)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseRoutingTag(t *testing.T) {
	id, side, err := engine.ParseRoutingTag([]byte("12_no"))
	require.NoError(t, err)
	assert.Equal(t, "12", id)
	assert.Equal(t, domain.SideNo, side)
	assert.Equal(t, []byte("12_no"), engine.RoutingTag("12", domain.SideNo))
}
