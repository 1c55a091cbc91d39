package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
)

// SidePair reports a yes/no pair of amounts for one account.
type SidePair struct {
	MarketID string         `json:"market_id"`
	Account  common.Address `json:"account"`
	Yes      int64          `json:"yes"`
	No       int64          `json:"no"`
}

// GetMarket returns a market or domain.ErrNotFound.
func (s *SettlementService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) (domain.Market, error) {
		m, ok, err := s.eng.GetMarket(ic, id)
		if err != nil {
			return domain.Market{}, err
		}
		if !ok {
			return domain.Market{}, fmt.Errorf("settlement_service: market %q: %w", id, domain.ErrNotFound)
		}
		return m, nil
	})
}

// ListMarkets returns markets with status in id order.
func (s *SettlementService) ListMarkets(ctx context.Context, status domain.MarketStatus, offset, limit int) ([]domain.Market, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) ([]domain.Market, error) {
		return s.eng.ListMarkets(ic, status, offset, limit)
	})
}

// MarketCount returns the number of markets created.
func (s *SettlementService) MarketCount(ctx context.Context) (int64, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), s.eng.MarketCount)
}

// Probability returns the yes probability of a market in basis points.
func (s *SettlementService) Probability(ctx context.Context, id string) (int64, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) (int64, error) {
		return s.eng.Probability(ic, id)
	})
}

// Shares returns acct's yes and no shares in a market.
func (s *SettlementService) Shares(ctx context.Context, id string, acct common.Address) (SidePair, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) (SidePair, error) {
		p := SidePair{MarketID: id, Account: acct}
		var err error
		if p.Yes, err = s.eng.UserShares(ic, id, acct, domain.SideYes); err != nil {
			return SidePair{}, err
		}
		if p.No, err = s.eng.UserShares(ic, id, acct, domain.SideNo); err != nil {
			return SidePair{}, err
		}
		return p, nil
	})
}

// PendingCredit returns acct's unconsumed deposits for a market.
func (s *SettlementService) PendingCredit(ctx context.Context, id string, acct common.Address) (SidePair, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) (SidePair, error) {
		p := SidePair{MarketID: id, Account: acct}
		var err error
		if p.Yes, err = s.eng.PendingCredit(ic, acct, id, domain.SideYes); err != nil {
			return SidePair{}, err
		}
		if p.No, err = s.eng.PendingCredit(ic, acct, id, domain.SideNo); err != nil {
			return SidePair{}, err
		}
		return p, nil
	})
}

// Resolution returns the resolution lifecycle state of a market.
func (s *SettlementService) Resolution(ctx context.Context, id string) (domain.ResolutionInfo, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) (domain.ResolutionInfo, error) {
		return s.eng.ResolutionStatus(ic, id)
	})
}

// Holders returns the holder index of a market.
func (s *SettlementService) Holders(ctx context.Context, id string) ([]domain.HolderEntry, error) {
	return runtime.QueryAs(ctx, s.exec, s.eng.Address(), func(ic *runtime.Context) ([]domain.HolderEntry, error) {
		if _, ok, err := s.eng.GetMarket(ic, id); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("settlement_service: market %q: %w", id, domain.ErrNotFound)
			}
			return nil, err
		}
		return s.eng.Holders(ic, id)
	})
}

// Balance returns acct's token balance.
func (s *SettlementService) Balance(ctx context.Context, acct common.Address) (int64, error) {
	return runtime.QueryAs(ctx, s.exec, s.tok.Address(), func(ic *runtime.Context) (int64, error) {
		return s.tok.BalanceOf(ic, acct)
	})
}

// TotalSupply returns the minted token supply.
func (s *SettlementService) TotalSupply(ctx context.Context) (int64, error) {
	return runtime.QueryAs(ctx, s.exec, s.tok.Address(), s.tok.TotalSupply)
}
