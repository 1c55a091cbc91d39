package engine_test

import (
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestProbability(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)
	assert.Equal(t, int64(5000), h.probability(id))
	assert.Equal(t, int64(5000), h.probability("77"))

	h.depositAndBuy(alice, id, domain.SideYes, 1)
	h.depositAndBuy(bob, id, domain.SideNo, 2)
	assert.Equal(t, int64(3333), h.probability(id))

	h.depositAndBuy(carol, id, domain.SideNo, 998)
	assert.Equal(t, int64(9), h.probability(id))
}

func TestPoolsMonotonicAndProbabilityBounded(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(day)

	var lastYes, lastNo int64
	trades := []struct {
		side   domain.Side
		amount int64
	}{
		{domain.SideYes, 5}, {domain.SideNo, 17}, {domain.SideYes, 1}, {domain.SideNo, 300}, {domain.SideYes, 999},
	}
	for _, tr := range trades {
		h.depositAndBuy(alice, id, tr.side, tr.amount)
		m := h.market(id)
		assert.GreaterOrEqual(t, m.YesShares, lastYes)
		assert.GreaterOrEqual(t, m.NoShares, lastNo)
		lastYes, lastNo = m.YesShares, m.NoShares

		p := h.probability(id)
		assert.GreaterOrEqual(t, p, int64(0))
		assert.LessOrEqual(t, p, int64(10_000))
	}
	assert.Equal(t, int64(1005), lastYes)
	assert.Equal(t, int64(317), lastNo)
}
