package engine

import (
	"fmt"

	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/holiman/uint256"
)

// ProbabilityScale is the basis-point scale of Probability.
const ProbabilityScale = 10_000

// Probability returns the yes probability of a market in basis points:
// 5000 for an empty pool, otherwise floor(yes * 10000 / total).
func (e *Engine) Probability(ic *runtime.Context, id string) (int64, error) {
	yes, err := ic.GetInt(pfxYesShares + id)
	if err != nil {
		return 0, fmt.Errorf("engine: probability: %w", err)
	}
	no, err := ic.GetInt(pfxNoShares + id)
	if err != nil {
		return 0, fmt.Errorf("engine: probability: %w", err)
	}
	return yesProbability(yes, no), nil
}

func yesProbability(yes, no int64) int64 {
	if yes == 0 && no == 0 {
		return ProbabilityScale / 2
	}
	n := new(uint256.Int).Mul(uint256.NewInt(uint64(yes)), uint256.NewInt(ProbabilityScale))
	n.Div(n, new(uint256.Int).Add(uint256.NewInt(uint64(yes)), uint256.NewInt(uint64(no))))
	return int64(n.Uint64())
}
