package engine_test

import (
	"testing"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) status(id string) domain.ResolutionInfo {
	h.t.Helper()
	info, err := runtime.QueryAs(h.ctx, h.exec, h.eng.Address(), func(ic *runtime.Context) (domain.ResolutionInfo, error) {
		return h.eng.ResolutionStatus(ic, id)
	})
	require.NoError(h.t, err)
	return info
}

func TestRequestResolvePreconditions(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	_, err := h.requestResolve("5")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.clock.Set(start + day - 1)
	_, err = h.requestResolve(id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	h.clock.Set(start + day)
	reqID, err := h.requestResolve(id)
	require.NoError(t, err)

	req, err := h.oracle.GetRequest(h.ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, h.eng.Address(), req.Requester)
	assert.Equal(t, "https://x", req.URL)
	assert.Equal(t, "onOracleCallback", req.Callback)
	assert.Equal(t, []byte(id), req.UserData)
	assert.Equal(t, oracle.MinimumResponseGas, req.GasForResponse)
}

func TestRequestResolveExplicitArguments(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.clock.Set(start + day)

	rcpt, err := h.call(bob, func(ec *runtime.Context) (any, error) {
		return h.eng.RequestResolve(ec, id, "https://api.example/result", "$.data", 50_000_000)
	})
	require.NoError(t, err)

	req, err := h.oracle.GetRequest(h.ctx, rcpt.Result.(uint64))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example/result", req.URL)
	assert.Equal(t, "$.data", req.Filter)
	assert.Equal(t, int64(50_000_000), req.GasForResponse)
}

func TestOutstandingRequestBlocksDuplicateUntilTimeout(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.clock.Set(start + day)

	first, err := h.requestResolve(id)
	require.NoError(t, err)
	_, err = h.requestResolve(id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.ResolutionPendingOracle, h.status(id).Status)

	h.clock.Advance(time.Hour)
	assert.Equal(t, domain.ResolutionStalled, h.status(id).Status)
	second, err := h.requestResolve(id)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestResolutionStatusLifecycle(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	assert.Equal(t, domain.ResolutionOpen, h.status(id).Status)

	h.clock.Set(start + day)
	assert.Equal(t, domain.ResolutionClosed, h.status(id).Status)

	reqID, err := h.requestResolve(id)
	require.NoError(t, err)
	info := h.status(id)
	assert.Equal(t, domain.ResolutionPendingOracle, info.Status)
	assert.Equal(t, reqID, info.RequestID)

	_, err = h.oracle.Fulfill(h.ctx, reqID, oracle.Success, []byte(`[{"outcome":"No"}]`))
	require.NoError(t, err)
	info = h.status(id)
	assert.Equal(t, domain.ResolutionResolved, info.Status)
	require.NotNil(t, info.Outcome)
	assert.False(t, *info.Outcome)
	assert.Zero(t, info.RequestID)
}

func TestCallbackRejectsNonOracleCaller(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	for _, result := range []string{`{"outcome":"yes"}`, `garbage`, ``} {
		err := h.callback(alice, id, oracle.Success, result)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	assert.False(t, h.market(id).Resolved)
}

func TestCallbackValidation(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	assert.ErrorIs(t, h.callback(oracleAddr, id, oracle.Timeout, `{"outcome":"yes"}`), domain.ErrOracleError)
	assert.ErrorIs(t, h.callback(oracleAddr, "abc", oracle.Success, `{"outcome":"yes"}`), domain.ErrInvalidFormat)
	assert.ErrorIs(t, h.callback(oracleAddr, "42", oracle.Success, `{"outcome":"yes"}`), domain.ErrNotFound)
	assert.ErrorIs(t, h.callback(oracleAddr, id, oracle.Success, `{"outcome":"maybe"}`), domain.ErrInvalidFormat)
	assert.ErrorIs(t, h.callback(oracleAddr, id, oracle.Success, `The answer is yes`), domain.ErrInvalidFormat)

	assert.False(t, h.market(id).Resolved)
	assert.Empty(t, h.sink.named("MarketResolved"))
}

func TestCallbackResolvesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.depositAndBuy(alice, id, domain.SideYes, 10)

	require.NoError(t, h.callback(oracleAddr, id, oracle.Success, `{"outcome":"YES","confidence":0.9}`))
	m := h.market(id)
	assert.True(t, m.Resolved)
	assert.True(t, m.Outcome)

	err := h.callback(oracleAddr, id, oracle.Success, `{"outcome":"no"}`)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.True(t, h.market(id).Outcome)

	resolved := h.sink.named("MarketResolved")
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.MarketResolved{MarketID: id, Outcome: true}, resolved[0].Payload)

	// Pools are frozen once resolved.
	assert.Equal(t, int64(10), h.market(id).YesShares)
	_, err = h.requestResolve(id)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestFailedOracleResponseLeavesMarketOpen(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	h.clock.Set(start + day)

	reqID, err := h.requestResolve(id)
	require.NoError(t, err)
	_, err = h.oracle.Fulfill(h.ctx, reqID, oracle.NotFound, nil)
	assert.ErrorIs(t, err, domain.ErrOracleError)

	assert.False(t, h.market(id).Resolved)
	pending, err := h.oracle.Pending(h.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The retired request no longer blocks, well inside the request timeout.
	info := h.status(id)
	assert.Equal(t, domain.ResolutionClosed, info.Status)
	assert.Zero(t, info.RequestID)

	again, err := h.requestResolve(id)
	require.NoError(t, err)
	assert.Greater(t, again, reqID)
	assert.Equal(t, domain.ResolutionPendingOracle, h.status(id).Status)

	_, err = h.oracle.Fulfill(h.ctx, again, oracle.Success, []byte(`{"outcome":"yes"}`))
	require.NoError(t, err)
	assert.True(t, h.market(id).Resolved)
}
