package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
)

// BuyYes converts amount of the caller's credit into yes shares.
func (e *Engine) BuyYes(ic *runtime.Context, id string, amount int64) error {
	return e.buy(ic, id, domain.SideYes, amount)
}

// BuyNo converts amount of the caller's credit into no shares.
func (e *Engine) BuyNo(ic *runtime.Context, id string, amount int64) error {
	return e.buy(ic, id, domain.SideNo, amount)
}

func (e *Engine) buy(ic *runtime.Context, id string, side domain.Side, amount int64) error {
	op := "buy " + side.String()
	if err := e.enter(ic, op); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("engine: %s: %w: amount must be positive", op, domain.ErrInvalidArgument)
	}
	m, err := e.mustMarket(ic, op, id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("engine: %s: market %s: %w", op, id, domain.ErrAlreadyResolved)
	}
	if ic.Time() >= m.ResolveDate {
		return fmt.Errorf("engine: %s: market %s: %w: trading closed at %d", op, id, domain.ErrInvalidState, m.ResolveDate)
	}

	trader := ic.Caller()
	if err := e.consume(ic, trader, id, side, amount); err != nil {
		return err
	}
	if err := e.credit(ic, trader, id, side, amount); err != nil {
		return err
	}
	ic.Emit(domain.TradeExecuted{MarketID: id, Trader: trader, IsYes: side == domain.SideYes, Amount: amount})
	return nil
}

// credit adds shares to a position and to the market pool, indexing the
// holder the first time it acquires shares on the side.
func (e *Engine) credit(ic *runtime.Context, user common.Address, id string, side domain.Side, amount int64) error {
	pk := positionKey(user, id, side)
	pos, err := ic.GetInt(pk)
	if err != nil {
		return fmt.Errorf("engine: credit: %w", err)
	}
	pool, err := ic.GetInt(poolKey(id, side))
	if err != nil {
		return fmt.Errorf("engine: credit: %w", err)
	}
	if pos > math.MaxInt64-amount || pool > math.MaxInt64-amount {
		return fmt.Errorf("engine: credit: %w: share overflow", domain.ErrInvalidArgument)
	}

	if pos == 0 {
		if err := e.appendHolder(ic, id, user, side); err != nil {
			return err
		}
	}
	if err := ic.PutInt(pk, pos+amount); err != nil {
		return fmt.Errorf("engine: credit: %w", err)
	}
	if err := ic.PutInt(poolKey(id, side), pool+amount); err != nil {
		return fmt.Errorf("engine: credit: %w", err)
	}
	return nil
}

func (e *Engine) appendHolder(ic *runtime.Context, id string, user common.Address, side domain.Side) error {
	n, err := ic.GetInt(pfxHolderCount + id)
	if err != nil {
		return fmt.Errorf("engine: holder index: %w", err)
	}
	if err := ic.PutString(holderKey(id, n), user.Hex()+":"+side.String()); err != nil {
		return fmt.Errorf("engine: holder index: %w", err)
	}
	if err := ic.PutInt(pfxHolderCount+id, n+1); err != nil {
		return fmt.Errorf("engine: holder index: %w", err)
	}
	return nil
}

// UserShares returns the shares user holds on one side of a market.
func (e *Engine) UserShares(ic *runtime.Context, id string, user common.Address, side domain.Side) (int64, error) {
	n, err := ic.GetInt(positionKey(user, id, side))
	if err != nil {
		return 0, fmt.Errorf("engine: user shares: %w", err)
	}
	return n, nil
}

// Holders returns the holder index of a market in acquisition order.
func (e *Engine) Holders(ic *runtime.Context, id string) ([]domain.HolderEntry, error) {
	n, err := ic.GetInt(pfxHolderCount + id)
	if err != nil {
		return nil, fmt.Errorf("engine: holders: %w", err)
	}
	out := make([]domain.HolderEntry, 0, n)
	for i := int64(0); i < n; i++ {
		raw, err := ic.GetString(holderKey(id, i))
		if err != nil {
			return nil, fmt.Errorf("engine: holders: %w", err)
		}
		addr, sideText, ok := strings.Cut(raw, ":")
		if !ok || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("engine: holders: entry %d of market %s: %w", i, id, domain.ErrInvalidFormat)
		}
		side, err := domain.ParseSide(sideText)
		if err != nil {
			return nil, fmt.Errorf("engine: holders: %w", err)
		}
		out = append(out, domain.HolderEntry{Holder: common.HexToAddress(addr), Side: side})
	}
	return out, nil
}
