package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/alanyoungcy/predictx/internal/runtime"
)

// Call methods accepted in an envelope.
const (
	MethodTransfer       = "transfer"
	MethodCreateMarket   = "createMarket"
	MethodBuyYes         = "buyYes"
	MethodBuyNo          = "buyNo"
	MethodRequestResolve = "requestResolve"
	MethodPayout         = "payout"
	MethodReclaim        = "reclaim"
)

// TransferArgs moves tokens from the sender. When MarketID is set and Data
// is empty the transfer carries the routing tag for that market side.
type TransferArgs struct {
	To       string `json:"to" validate:"required,eth_addr"`
	Amount   int64  `json:"amount" validate:"min=0"`
	MarketID string `json:"market_id,omitempty" validate:"omitempty,numeric"`
	Side     string `json:"side,omitempty" validate:"omitempty,oneof=yes no YES NO"`
	Data     string `json:"data,omitempty" validate:"max=64"`
}

// BuyArgs converts pending credit into shares.
type BuyArgs struct {
	MarketID string `json:"market_id" validate:"required"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

// RequestResolveArgs asks the oracle to resolve a market.
type RequestResolveArgs struct {
	MarketID string `json:"market_id" validate:"required"`
	URL      string `json:"url,omitempty" validate:"omitempty,url,max=256"`
	Filter   string `json:"filter,omitempty" validate:"max=128"`
	Gas      int64  `json:"gas,omitempty" validate:"min=0"`
}

// MarketArgs names a market.
type MarketArgs struct {
	MarketID string `json:"market_id" validate:"required"`
}

// ReclaimArgs returns unconsumed credit on one market side.
type ReclaimArgs struct {
	MarketID string `json:"market_id" validate:"required"`
	Side     string `json:"side" validate:"required,oneof=yes no YES NO"`
}

// dispatch runs one call from the root (sender) context.
func (s *SettlementService) dispatch(root *runtime.Context, c domain.Call) (any, error) {
	switch c.Contract {
	case "token":
		return s.dispatchToken(root, c)
	case "engine":
		return s.dispatchEngine(root.Call(s.eng.Address()), c)
	}
	return nil, fmt.Errorf("%w: unknown contract %q", domain.ErrInvalidArgument, c.Contract)
}

func (s *SettlementService) dispatchToken(root *runtime.Context, c domain.Call) (any, error) {
	if c.Method != MethodTransfer {
		return nil, fmt.Errorf("%w: unknown token method %q", domain.ErrInvalidArgument, c.Method)
	}
	var a TransferArgs
	if err := s.decode(c.Args, &a); err != nil {
		return nil, err
	}

	data := []byte(a.Data)
	if a.MarketID != "" && a.Data == "" {
		side, err := domain.ParseSide(a.Side)
		if err != nil {
			return nil, err
		}
		data = engine.RoutingTag(a.MarketID, side)
	}
	if err := s.tok.Transfer(root, root.Sender(), common.HexToAddress(a.To), a.Amount, data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *SettlementService) dispatchEngine(ec *runtime.Context, c domain.Call) (any, error) {
	switch c.Method {
	case MethodCreateMarket:
		var p domain.MarketParams
		if err := s.decode(c.Args, &p); err != nil {
			return nil, err
		}
		id, err := s.eng.CreateMarket(ec, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"market_id": id}, nil

	case MethodBuyYes, MethodBuyNo:
		var a BuyArgs
		if err := s.decode(c.Args, &a); err != nil {
			return nil, err
		}
		if c.Method == MethodBuyYes {
			return nil, s.eng.BuyYes(ec, a.MarketID, a.Amount)
		}
		return nil, s.eng.BuyNo(ec, a.MarketID, a.Amount)

	case MethodRequestResolve:
		var a RequestResolveArgs
		if err := s.decode(c.Args, &a); err != nil {
			return nil, err
		}
		reqID, err := s.eng.RequestResolve(ec, a.MarketID, a.URL, a.Filter, a.Gas)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"request_id": reqID}, nil

	case MethodPayout:
		var a MarketArgs
		if err := s.decode(c.Args, &a); err != nil {
			return nil, err
		}
		return s.eng.Payout(ec, a.MarketID)

	case MethodReclaim:
		var a ReclaimArgs
		if err := s.decode(c.Args, &a); err != nil {
			return nil, err
		}
		side, err := domain.ParseSide(a.Side)
		if err != nil {
			return nil, err
		}
		n, err := s.eng.ReclaimCredit(ec, a.MarketID, side)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"amount": n}, nil
	}
	return nil, fmt.Errorf("%w: unknown engine method %q", domain.ErrInvalidArgument, c.Method)
}
