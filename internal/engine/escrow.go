package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
)

// OnTokensReceived is the engine's receipt hook. It only trusts calls made by
// the token contract and only records credits; it never moves shares.
//
// A transfer without data is an unrouted deposit and records nothing. A
// routed deposit increments both the batch-scoped marker and the
// payer-scoped pending credit. The marker lives in invocation scratch space
// and only tells consume how much credit was deposited in the same batch.
func (e *Engine) OnTokensReceived(ic *runtime.Context, from common.Address, amount int64, data []byte) error {
	if err := e.enter(ic, "receive"); err != nil {
		return err
	}
	if ic.Caller() != e.token.Address() {
		return fmt.Errorf("engine: receive: %w: caller %s is not the token", domain.ErrUnauthorized, ic.Caller().Hex())
	}
	if len(data) == 0 {
		e.logger.Debug("unrouted deposit", slog.String("from", from.Hex()), slog.Int64("amount", amount))
		return nil
	}

	id, side, err := ParseRoutingTag(data)
	if err != nil {
		return err
	}
	m, err := e.mustMarket(ic, "receive", id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("engine: receive: market %s: %w", id, domain.ErrAlreadyResolved)
	}
	if amount <= 0 {
		return nil
	}

	key := pendingKey(from, id, side)
	pending, err := ic.GetInt(key)
	if err != nil {
		return fmt.Errorf("engine: receive: %w", err)
	}
	if pending > math.MaxInt64-amount {
		return fmt.Errorf("engine: receive: %w: pending credit overflow", domain.ErrInvalidArgument)
	}
	if err := ic.PutInt(key, pending+amount); err != nil {
		return fmt.Errorf("engine: receive: %w", err)
	}
	ic.Scratch()[batchKey(ic.InvocationID(), from, id, side)] += amount
	return nil
}

// consume takes amount of pending credit from payer. When the credit is
// short it pulls amount from the payer's token balance, which requires the
// payer to have witnessed the invocation.
func (e *Engine) consume(ic *runtime.Context, payer common.Address, id string, side domain.Side, amount int64) error {
	key := pendingKey(payer, id, side)
	available, err := ic.GetInt(key)
	if err != nil {
		return fmt.Errorf("engine: consume: %w", err)
	}

	if available < amount {
		err := e.token.Transfer(ic, payer, e.addr, amount, RoutingTag(id, side))
		switch {
		case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInsufficientFunds):
			return fmt.Errorf("engine: consume: %w: have %d, need %d", domain.ErrInsufficientPayment, available, amount)
		case err != nil:
			return err
		}
		if available, err = ic.GetInt(key); err != nil {
			return fmt.Errorf("engine: consume: %w", err)
		}
		if available < amount {
			return fmt.Errorf("engine: consume: %w: have %d, need %d", domain.ErrInsufficientPayment, available, amount)
		}
	}

	// The batch marker says how much of the credit arrived in this
	// invocation; the rest was carried over from earlier ones.
	bk := batchKey(ic.InvocationID(), payer, id, side)
	fresh := min(ic.Scratch()[bk], amount)
	if left := ic.Scratch()[bk] - fresh; left > 0 {
		ic.Scratch()[bk] = left
	} else {
		delete(ic.Scratch(), bk)
	}
	e.logger.Debug("credit consumed",
		slog.String("market_id", id),
		slog.String("payer", payer.Hex()),
		slog.String("side", side.String()),
		slog.Int64("amount", amount),
		slog.Int64("same_invocation", fresh),
		slog.Int64("carried", amount-fresh),
	)
	if rest := available - amount; rest > 0 {
		err = ic.PutInt(key, rest)
	} else {
		err = ic.Delete(key)
	}
	if err != nil {
		return fmt.Errorf("engine: consume: %w", err)
	}
	return nil
}

// PendingCredit returns payer's unconsumed credit for a market side.
func (e *Engine) PendingCredit(ic *runtime.Context, payer common.Address, id string, side domain.Side) (int64, error) {
	n, err := ic.GetInt(pendingKey(payer, id, side))
	if err != nil {
		return 0, fmt.Errorf("engine: pending credit: %w", err)
	}
	return n, nil
}

// ReclaimCredit returns the caller's pending credit for a market side to the
// caller's token balance.
func (e *Engine) ReclaimCredit(ic *runtime.Context, id string, side domain.Side) (int64, error) {
	if err := e.enter(ic, "reclaim"); err != nil {
		return 0, err
	}
	payer := ic.Caller()
	key := pendingKey(payer, id, side)
	amount, err := ic.GetInt(key)
	if err != nil {
		return 0, fmt.Errorf("engine: reclaim: %w", err)
	}
	if amount == 0 {
		return 0, fmt.Errorf("engine: reclaim: market %s %s: %w: no pending credit", id, side, domain.ErrNotFound)
	}

	if err := ic.Delete(key); err != nil {
		return 0, fmt.Errorf("engine: reclaim: %w", err)
	}
	delete(ic.Scratch(), batchKey(ic.InvocationID(), payer, id, side))
	if err := e.token.Transfer(ic, e.addr, payer, amount, nil); err != nil {
		return 0, err
	}
	return amount, nil
}
