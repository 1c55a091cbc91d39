package engine_test

import (
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMarketFirstMarket(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	assert.Equal(t, "1", id)

	count, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (int64, error) {
		return h.eng.MarketCount(ic)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	m := h.market("1")
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, "desc", m.Description)
	assert.Equal(t, "Climate", m.Category)
	assert.Equal(t, "https://x", m.OracleURL)
	assert.Equal(t, start+day, m.ResolveDate)
	assert.Equal(t, start, m.CreatedAt)
	assert.Equal(t, alice, m.Creator)
	assert.False(t, m.Resolved)
	assert.Zero(t, m.YesShares)
	assert.Zero(t, m.NoShares)

	created := h.sink.named("MarketCreated")
	require.Len(t, created, 1)
	assert.Equal(t, h.eng.Address(), created[0].Contract)
	assert.Equal(t, domain.MarketCreated{
		MarketID: "1", Question: "Will it rain?", Category: "Climate", ResolveDate: start + day, OracleURL: "https://x",
	}, created[0].Payload)
}

func TestCreateMarketValidation(t *testing.T) {
	h := newHarness(t)
	create := func(p domain.MarketParams) error {
		_, err := h.call(alice, func(ec *runtime.Context) (any, error) {
			return h.eng.CreateMarket(ec, p)
		})
		return err
	}

	err := create(domain.MarketParams{Question: "", Description: "d", ResolveDate: start + day})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	err = create(domain.MarketParams{Question: "q", Description: "", ResolveDate: start + day})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	err = create(domain.MarketParams{Question: "q", Description: "d", ResolveDate: start})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	err = create(domain.MarketParams{Question: "q", Description: "d", ResolveDate: start - 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, create(domain.MarketParams{Question: "q", Description: "d", ResolveDate: start + 1}))
	assert.Equal(t, "q", h.market("1").Question)
	assert.Len(t, h.sink.named("MarketCreated"), 1)
}

func TestMarketIDsAreMonotonic(t *testing.T) {
	h := newHarness(t)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, h.createMarket(day), "market %d", i)
	}
}

func TestGetMarketAbsent(t *testing.T) {
	h := newHarness(t)
	h.createMarket(day)

	for _, id := range []string{"0", "2", "01", "-1", "abc", ""} {
		ok, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) (bool, error) {
			_, ok, err := h.eng.GetMarket(ic, id)
			return ok, err
		})
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
}

func TestGetMarketDecodesLegacyFlags(t *testing.T) {
	h := newHarness(t)
	h.createMarket(day)

	require.NoError(t, h.store.Commit(h.ctx, []domain.KVWrite{
		{Key: "mkt:res:1", Value: []byte{0x05}},
		{Key: "mkt:out:1", Value: []byte{0x00}},
	}))
	m := h.market("1")
	assert.True(t, m.Resolved)
	assert.False(t, m.Outcome)

	require.NoError(t, h.store.Commit(h.ctx, []domain.KVWrite{
		{Key: "mkt:res:1", Delete: true},
		{Key: "mkt:out:1", Value: []byte("yes")},
	}))
	m = h.market("1")
	assert.False(t, m.Resolved)
	assert.True(t, m.Outcome)
}

func TestListMarkets(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.createMarket(day)
	}

	list := func(offset, limit int) []string {
		return h.listMarkets(domain.MarketsAll, offset, limit)
	}

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, list(0, 0))
	assert.Equal(t, []string{"2", "3"}, list(1, 2))
	assert.Equal(t, []string{"5"}, list(4, 10))
	assert.Empty(t, list(10, 10))
}

func TestListMarketsByStatus(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.createMarket(day)
	}
	h.resolve("2", "yes")
	h.resolve("4", "no")

	assert.Equal(t, []string{"2", "4"}, h.listMarkets(domain.MarketsResolved, 0, 0))
	assert.Equal(t, []string{"1", "3"}, h.listMarkets(domain.MarketsOpen, 0, 0))
	assert.Equal(t, []string{"3"}, h.listMarkets(domain.MarketsOpen, 1, 5), "offset counts matches")
	assert.Equal(t, []string{"4"}, h.listMarkets(domain.MarketsResolved, 1, 1))
	assert.Empty(t, h.listMarkets(domain.MarketsResolved, 2, 5))
	assert.Equal(t, []string{"2", "3"}, h.listMarkets(domain.MarketsAll, 1, 2))
}

func (h *harness) listMarkets(status domain.MarketStatus, offset, limit int) []string {
	h.t.Helper()
	ms, err := runtime.Query(h.ctx, h.exec, func(ic *runtime.Context) ([]domain.Market, error) {
		return h.eng.ListMarkets(ic, status, offset, limit)
	})
	require.NoError(h.t, err)
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestEngineRejectsForeignContext(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.Invoke(h.ctx, runtime.Invocation{Sender: alice}, func(root *runtime.Context) (any, error) {
		return h.eng.CreateMarket(root, domain.MarketParams{Question: "q", Description: "d", ResolveDate: start + day})
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
