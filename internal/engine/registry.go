package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
)

// MaxListLimit caps ListMarkets page sizes.
const MaxListLimit = 500

// CreateMarket registers a new market created by the caller and returns its
// id. The resolve date must lie strictly in the future.
func (e *Engine) CreateMarket(ic *runtime.Context, p domain.MarketParams) (string, error) {
	if err := e.enter(ic, "create market"); err != nil {
		return "", err
	}
	switch {
	case strings.TrimSpace(p.Question) == "":
		return "", fmt.Errorf("engine: create market: %w: question is empty", domain.ErrInvalidArgument)
	case strings.TrimSpace(p.Description) == "":
		return "", fmt.Errorf("engine: create market: %w: description is empty", domain.ErrInvalidArgument)
	case p.ResolveDate <= ic.Time():
		return "", fmt.Errorf("engine: create market: %w: resolve date %d is not after %d", domain.ErrInvalidArgument, p.ResolveDate, ic.Time())
	case len(p.OracleURL) > oracle.MaxURLLength:
		return "", fmt.Errorf("engine: create market: %w: oracle url longer than %d", domain.ErrInvalidArgument, oracle.MaxURLLength)
	}

	count, err := ic.GetInt(keyMarketCount)
	if err != nil {
		return "", fmt.Errorf("engine: create market: %w", err)
	}
	id := strconv.FormatInt(count+1, 10)
	creator := ic.Caller()

	writes := []struct {
		key   string
		value string
	}{
		{pfxQuestion + id, p.Question},
		{pfxDescription + id, p.Description},
		{pfxCategory + id, p.Category},
		{pfxResolveDate + id, strconv.FormatInt(p.ResolveDate, 10)},
		{pfxOracleURL + id, p.OracleURL},
		{pfxCreator + id, creator.Hex()},
		{pfxCreatedAt + id, strconv.FormatInt(ic.Time(), 10)},
	}
	if err := ic.PutInt(keyMarketCount, count+1); err != nil {
		return "", fmt.Errorf("engine: create market: %w", err)
	}
	for _, w := range writes {
		if err := ic.PutString(w.key, w.value); err != nil {
			return "", fmt.Errorf("engine: create market: %w", err)
		}
	}
	if err := ic.PutFlag(pfxResolved+id, false); err != nil {
		return "", fmt.Errorf("engine: create market: %w", err)
	}

	ic.Emit(domain.MarketCreated{
		MarketID:    id,
		Question:    p.Question,
		Category:    p.Category,
		ResolveDate: p.ResolveDate,
		OracleURL:   p.OracleURL,
	})
	e.logger.Debug("market created", slog.String("market_id", id), slog.String("creator", creator.Hex()))
	return id, nil
}

// GetMarket reads a market. The boolean is false when no market has the id.
func (e *Engine) GetMarket(ic *runtime.Context, id string) (domain.Market, bool, error) {
	if !canonicalID(id) {
		return domain.Market{}, false, nil
	}
	question, err := ic.GetString(pfxQuestion + id)
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("engine: get market %s: %w", id, err)
	}
	if question == "" {
		return domain.Market{}, false, nil
	}

	m := domain.Market{ID: id, Question: question}
	r := fieldReader{ic: ic}
	m.Description = r.text(pfxDescription + id)
	m.Category = r.text(pfxCategory + id)
	m.OracleURL = r.text(pfxOracleURL + id)
	m.Creator = common.HexToAddress(r.text(pfxCreator + id))
	m.ResolveDate = r.num(pfxResolveDate + id)
	m.CreatedAt = r.num(pfxCreatedAt + id)
	m.YesShares = r.num(pfxYesShares + id)
	m.NoShares = r.num(pfxNoShares + id)
	m.Resolved = bool(r.flag(pfxResolved + id))
	m.Outcome = bool(r.flag(pfxOutcome + id))
	m.PaidOut = bool(r.flag(pfxPaid + id))
	if r.err != nil {
		return domain.Market{}, false, fmt.Errorf("engine: get market %s: %w", id, r.err)
	}
	return m, true, nil
}

// MarketCount returns the number of markets ever created.
func (e *Engine) MarketCount(ic *runtime.Context) (int64, error) {
	n, err := ic.GetInt(keyMarketCount)
	if err != nil {
		return 0, fmt.Errorf("engine: market count: %w", err)
	}
	return n, nil
}

// ListMarkets returns markets with the given status in ascending id order,
// skipping the first offset matches.
func (e *Engine) ListMarkets(ic *runtime.Context, status domain.MarketStatus, offset, limit int) ([]domain.Market, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	count, err := e.MarketCount(ic)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Market, 0, min(int64(limit), max(count-int64(offset), 0)))
	// Ids are dense, so an unfiltered listing jumps straight past offset.
	first, skip := int64(1), offset
	if status == domain.MarketsAll {
		first, skip = int64(offset)+1, 0
	}
	for n := first; n <= count && len(out) < limit; n++ {
		m, ok, err := e.GetMarket(ic, strconv.FormatInt(n, 10))
		if err != nil {
			return nil, err
		}
		if !ok || !status.Matches(m) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) mustMarket(ic *runtime.Context, op, id string) (domain.Market, error) {
	m, ok, err := e.GetMarket(ic, id)
	if err != nil {
		return domain.Market{}, err
	}
	if !ok {
		return domain.Market{}, fmt.Errorf("engine: %s: market %q: %w", op, id, domain.ErrNotFound)
	}
	return m, nil
}

// fieldReader collects the first read error across a sequence of reads.
type fieldReader struct {
	ic  *runtime.Context
	err error
}

func (r *fieldReader) text(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.ic.GetString(key)
	r.err = err
	return v
}

func (r *fieldReader) num(key string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.ic.GetInt(key)
	r.err = err
	return v
}

func (r *fieldReader) flag(key string) domain.Flag {
	if r.err != nil {
		return false
	}
	v, err := r.ic.GetFlag(key)
	r.err = err
	return v
}
