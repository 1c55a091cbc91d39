package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predictx/internal/runtime"
)

// Allocation is a genesis mint in token base units.
type Allocation struct {
	Account common.Address
	Amount  int64
}

// Genesis mints allocs as admin when the token has no supply yet. It reports
// whether anything was minted; an already funded ledger is left alone.
func (s *SettlementService) Genesis(ctx context.Context, admin common.Address, allocs []Allocation) (bool, error) {
	if len(allocs) == 0 {
		return false, nil
	}
	supply, err := s.TotalSupply(ctx)
	if err != nil {
		return false, fmt.Errorf("settlement_service: genesis: %w", err)
	}
	if supply > 0 {
		return false, nil
	}

	inv := runtime.Invocation{
		ID:      uuid.NewSHA1(invocationNamespace, []byte("genesis")),
		Sender:  admin,
		Signers: []common.Address{admin},
	}
	_, err = s.exec.Invoke(ctx, inv, func(root *runtime.Context) (any, error) {
		// re-check inside the invocation; another process may have minted
		if n, err := s.tok.TotalSupply(root.Call(s.tok.Address())); err != nil || n > 0 {
			return nil, err
		}
		for _, a := range allocs {
			if err := s.tok.Mint(root, a.Account, a.Amount); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("settlement_service: genesis: %w", err)
	}

	s.logger.InfoContext(ctx, "settlement_service: genesis minted",
		slog.Int("allocations", len(allocs)),
		slog.String("admin", admin.Hex()),
	)
	return true, nil
}
