package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenService is the read side of the token ledger.
type TokenService interface {
	Balance(ctx context.Context, acct common.Address) (int64, error)
	TotalSupply(ctx context.Context) (int64, error)
}

// TokenHandler serves token balances in base units and display units.
type TokenHandler struct {
	tokens   TokenService
	symbol   string
	decimals int32
	logger   *slog.Logger
}

// NewTokenHandler creates a TokenHandler. decimals is the number of
// fractional digits of one display unit.
func NewTokenHandler(tokens TokenService, symbol string, decimals int32, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:   tokens,
		symbol:   symbol,
		decimals: decimals,
		logger:   logHandler(logger, "tokens"),
	}
}

type amountResponse struct {
	Account string `json:"account,omitempty"`
	Amount  int64  `json:"amount"`
	Display string `json:"display"`
	Symbol  string `json:"symbol"`
}

func (h *TokenHandler) amount(acct string, n int64) amountResponse {
	return amountResponse{
		Account: acct,
		Amount:  n,
		Display: decimal.New(n, -h.decimals).StringFixed(h.decimals),
		Symbol:  h.symbol,
	}
}

// GetBalance returns an account's token balance.
// GET /api/tokens/{account}
func (h *TokenHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := pathAccount(r, "account")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	n, err := h.tokens.Balance(r.Context(), acct)
	if err != nil {
		writeServiceError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, h.amount(acct.Hex(), n))
}

// GetSupply returns the total minted supply.
// GET /api/tokens/supply
func (h *TokenHandler) GetSupply(w http.ResponseWriter, r *http.Request) {
	n, err := h.tokens.TotalSupply(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "total supply", err)
		return
	}
	writeJSON(w, http.StatusOK, h.amount("", n))
}
