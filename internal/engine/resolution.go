package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
)

// RequestResolve asks the oracle for the outcome of a market whose deadline
// has passed. An empty url falls back to the market's oracle url and gas
// below the protocol minimum is raised to it. A request that the oracle still
// holds and that is younger than the request timeout blocks a new one.
func (e *Engine) RequestResolve(ic *runtime.Context, id, url, filter string, gas int64) (uint64, error) {
	if err := e.enter(ic, "request resolve"); err != nil {
		return 0, err
	}
	m, err := e.mustMarket(ic, "request resolve", id)
	if err != nil {
		return 0, err
	}
	if m.Resolved {
		return 0, fmt.Errorf("engine: request resolve: market %s: %w", id, domain.ErrAlreadyResolved)
	}
	if ic.Time() < m.ResolveDate {
		return 0, fmt.Errorf("engine: request resolve: market %s: %w: deadline %d not reached", id, domain.ErrInvalidState, m.ResolveDate)
	}

	prev, at, ok, err := e.outstanding(ic, id)
	if err != nil {
		return 0, err
	}
	if ok && ic.Time()-at < e.requestTimeout {
		return 0, fmt.Errorf("engine: request resolve: market %s: %w: request %d outstanding", id, domain.ErrInvalidState, prev)
	}

	if url == "" {
		url = m.OracleURL
	}
	if url == "" {
		return 0, fmt.Errorf("engine: request resolve: market %s: %w: no oracle url", id, domain.ErrInvalidArgument)
	}
	if gas < oracle.MinimumResponseGas {
		gas = oracle.MinimumResponseGas
	}

	reqID, err := e.oracle.Request(ic, url, filter, CallbackMethod, []byte(id), gas)
	if err != nil {
		return 0, err
	}
	marker := strconv.FormatUint(reqID, 10) + ":" + strconv.FormatInt(ic.Time(), 10)
	if err := ic.PutString(pfxRequest+id, marker); err != nil {
		return 0, fmt.Errorf("engine: request resolve: %w", err)
	}
	ic.Emit(domain.ResolutionRequested{MarketID: id, RequestID: reqID, URL: url})
	e.logger.Info("resolution requested",
		slog.String("market_id", id),
		slog.Uint64("request_id", reqID),
		slog.String("url", url),
	)
	return reqID, nil
}

// OnOracleCallback receives the oracle's answer. Only the oracle identity
// may call it, and a market resolves at most once.
func (e *Engine) OnOracleCallback(ic *runtime.Context, url string, userData []byte, code oracle.Code, result []byte) error {
	if err := e.enter(ic, "oracle callback"); err != nil {
		return err
	}
	if ic.Caller() != e.oracle.Address() {
		return fmt.Errorf("engine: oracle callback: %w: caller %s", domain.ErrUnauthorized, ic.Caller().Hex())
	}
	if code != oracle.Success {
		return fmt.Errorf("engine: oracle callback: %w: %s", domain.ErrOracleError, code)
	}
	id := string(userData)
	if !canonicalID(id) {
		return fmt.Errorf("engine: oracle callback: %w: payload %q is not a market id", domain.ErrInvalidFormat, userData)
	}
	m, err := e.mustMarket(ic, "oracle callback", id)
	if err != nil {
		return err
	}
	if m.Resolved {
		return fmt.Errorf("engine: oracle callback: market %s: %w", id, domain.ErrAlreadyResolved)
	}
	outcome, err := ParseOutcome(result)
	if err != nil {
		return err
	}

	if err := ic.PutFlag(pfxResolved+id, true); err != nil {
		return fmt.Errorf("engine: oracle callback: %w", err)
	}
	if err := ic.PutFlag(pfxOutcome+id, domain.Flag(outcome)); err != nil {
		return fmt.Errorf("engine: oracle callback: %w", err)
	}
	if err := ic.Delete(pfxRequest + id); err != nil {
		return fmt.Errorf("engine: oracle callback: %w", err)
	}
	ic.Emit(domain.MarketResolved{MarketID: id, Outcome: outcome})
	e.logger.Info("market resolved",
		slog.String("market_id", id),
		slog.String("outcome", domain.SideFromBool(outcome).String()),
		slog.String("url", url),
	)
	return nil
}

// ResolutionStatus reports where a market is in its resolution lifecycle.
// A market whose request timed out is stalled until someone requests
// resolution again. A request the oracle already retired without resolving
// the market leaves it closed.
func (e *Engine) ResolutionStatus(ic *runtime.Context, id string) (domain.ResolutionInfo, error) {
	m, err := e.mustMarket(ic, "resolution status", id)
	if err != nil {
		return domain.ResolutionInfo{}, err
	}
	info := domain.ResolutionInfo{MarketID: id}
	if m.Resolved {
		outcome := m.Outcome
		info.Status = domain.ResolutionResolved
		info.Outcome = &outcome
		return info, nil
	}

	reqID, at, ok, err := e.outstanding(ic, id)
	if err != nil {
		return domain.ResolutionInfo{}, err
	}
	if ok {
		info.RequestID, info.RequestedAt = reqID, at
	}
	switch {
	case ic.Time() < m.ResolveDate:
		info.Status = domain.ResolutionOpen
	case ok && ic.Time()-at < e.requestTimeout:
		info.Status = domain.ResolutionPendingOracle
	case ok:
		info.Status = domain.ResolutionStalled
	default:
		info.Status = domain.ResolutionClosed
	}
	return info, nil
}

func (e *Engine) outstanding(ic *runtime.Context, id string) (uint64, int64, bool, error) {
	raw, err := ic.GetString(pfxRequest + id)
	if err != nil {
		return 0, 0, false, fmt.Errorf("engine: outstanding request: %w", err)
	}
	if raw == "" {
		return 0, 0, false, nil
	}
	reqText, atText, _ := strings.Cut(raw, ":")
	reqID, err1 := strconv.ParseUint(reqText, 10, 64)
	at, err2 := strconv.ParseInt(atText, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false, fmt.Errorf("engine: outstanding request %q: %w", raw, domain.ErrInvalidFormat)
	}
	// A rejected response retires the request but rolls back the callback,
	// so the marker can outlive it.
	live, err := e.oracle.IsPending(ic, reqID)
	if err != nil {
		return 0, 0, false, fmt.Errorf("engine: outstanding request: %w", err)
	}
	if !live {
		return 0, 0, false, nil
	}
	return reqID, at, true, nil
}
