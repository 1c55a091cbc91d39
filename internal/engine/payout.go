package engine

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/holiman/uint256"
)

// Payout distributes the pool of a resolved market. Each winning holder gets
// floor(shares * totalPool / winningPool); what rounding leaves behind is
// kept in the market's remainder bucket. When nobody backed the winning side
// every holder is refunded its stake. A market pays out once.
func (e *Engine) Payout(ic *runtime.Context, id string) (domain.PayoutSummary, error) {
	if err := e.enter(ic, "payout"); err != nil {
		return domain.PayoutSummary{}, err
	}
	m, err := e.mustMarket(ic, "payout", id)
	if err != nil {
		return domain.PayoutSummary{}, err
	}
	if !m.Resolved {
		return domain.PayoutSummary{}, fmt.Errorf("engine: payout: market %s: %w: not resolved", id, domain.ErrInvalidState)
	}
	total := m.TotalShares()
	if total == 0 {
		return domain.PayoutSummary{}, fmt.Errorf("engine: payout: market %s: %w", id, domain.ErrEmptyPool)
	}
	if m.PaidOut {
		return domain.PayoutSummary{}, fmt.Errorf("engine: payout: market %s: %w: already paid out", id, domain.ErrInvalidState)
	}

	winner := domain.SideFromBool(m.Outcome)
	winPool := m.Pool(winner)
	summary := domain.PayoutSummary{
		MarketID:    id,
		WinningSide: winner.String(),
		TotalPool:   total,
		WinningPool: winPool,
		Refunded:    winPool == 0,
	}

	holders, err := e.Holders(ic, id)
	if err != nil {
		return domain.PayoutSummary{}, err
	}
	for _, h := range holders {
		if !summary.Refunded && h.Side != winner {
			continue
		}
		shares, err := e.UserShares(ic, id, h.Holder, h.Side)
		if err != nil {
			return domain.PayoutSummary{}, err
		}
		amount := shares
		if !summary.Refunded {
			amount = proRata(shares, total, winPool)
		}
		if amount == 0 {
			continue
		}
		if err := e.token.Transfer(ic, e.addr, h.Holder, amount, nil); err != nil {
			return domain.PayoutSummary{}, fmt.Errorf("engine: payout: pay %s: %w", h.Holder.Hex(), err)
		}
		ic.Emit(domain.PayoutDistributed{MarketID: id, Recipient: h.Holder, Amount: amount})
		summary.Distributed += amount
		summary.Recipients++
	}

	summary.Remainder = total - summary.Distributed
	if err := ic.PutInt(pfxRemainder+id, summary.Remainder); err != nil {
		return domain.PayoutSummary{}, fmt.Errorf("engine: payout: %w", err)
	}
	if err := ic.PutFlag(pfxPaid+id, true); err != nil {
		return domain.PayoutSummary{}, fmt.Errorf("engine: payout: %w", err)
	}

	e.logger.Info("payout distributed",
		slog.String("market_id", id),
		slog.String("winning_side", summary.WinningSide),
		slog.Int64("distributed", summary.Distributed),
		slog.Int64("remainder", summary.Remainder),
		slog.Int("recipients", summary.Recipients),
	)
	return summary, nil
}

// Remainder returns the rounding remainder a payout left for a market.
func (e *Engine) Remainder(ic *runtime.Context, id string) (int64, error) {
	n, err := ic.GetInt(pfxRemainder + id)
	if err != nil {
		return 0, fmt.Errorf("engine: remainder: %w", err)
	}
	return n, nil
}

// proRata computes floor(shares * total / pool) without overflow. The result
// never exceeds total since shares <= pool.
func proRata(shares, total, pool int64) int64 {
	n := new(uint256.Int).Mul(uint256.NewInt(uint64(shares)), uint256.NewInt(uint64(total)))
	n.Div(n, uint256.NewInt(uint64(pool)))
	return int64(n.Uint64())
}
