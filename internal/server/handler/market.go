package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, offset, limit int) ([]domain.Market, error)
	MarketCount(ctx context.Context) (int64, error)
	Probability(ctx context.Context, id string) (int64, error)
	Shares(ctx context.Context, id string, acct common.Address) (service.SidePair, error)
	PendingCredit(ctx context.Context, id string, acct common.Address) (service.SidePair, error)
	Resolution(ctx context.Context, id string) (domain.ResolutionInfo, error)
	Holders(ctx context.Context, id string) ([]domain.HolderEntry, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "markets"),
	}
}

// listMarketsResponse wraps the list endpoint output with metadata. Total
// counts every market ever created, whatever the status filter.
type listMarketsResponse struct {
	Markets []domain.Market     `json:"markets"`
	Status  domain.MarketStatus `json:"status,omitempty"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets in id order with pagination, optionally only
// the open or resolved ones. The offset counts matching markets.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	status, err := domain.ParseMarketStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), status, opts.Offset, opts.Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	total, err := h.markets.MarketCount(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Status:  status,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// CountMarkets returns the number of markets ever created.
// GET /api/markets/count
func (h *MarketHandler) CountMarkets(w http.ResponseWriter, r *http.Request) {
	total, err := h.markets.MarketCount(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": total})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetProbability returns the yes probability in basis points. Unknown or
// empty markets report 5000.
// GET /api/markets/{id}/probability
func (h *MarketHandler) GetProbability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bps, err := h.markets.Probability(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "probability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":       id,
		"yes_probability": bps,
		"no_probability":  10000 - bps,
	})
}

// GetShares returns an account's yes and no shares.
// GET /api/markets/{id}/shares/{account}
func (h *MarketHandler) GetShares(w http.ResponseWriter, r *http.Request) {
	acct, ok := pathAccount(r, "account")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	p, err := h.markets.Shares(r.Context(), r.PathValue("id"), acct)
	if err != nil {
		writeServiceError(w, r, h.logger, "shares", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPending returns an account's deposits not yet converted into shares.
// GET /api/markets/{id}/pending/{account}
func (h *MarketHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	acct, ok := pathAccount(r, "account")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	p, err := h.markets.PendingCredit(r.Context(), r.PathValue("id"), acct)
	if err != nil {
		writeServiceError(w, r, h.logger, "pending credit", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetResolution returns the resolution lifecycle state.
// GET /api/markets/{id}/resolution
func (h *MarketHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	info, err := h.markets.Resolution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetHolders returns the holder index in acquisition order.
// GET /api/markets/{id}/holders
func (h *MarketHandler) GetHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := h.markets.Holders(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "holders", err)
		return
	}
	if holders == nil {
		holders = []domain.HolderEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holders": holders})
}
