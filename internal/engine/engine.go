// Package engine implements the prediction-market settlement contract:
// market registry, payment escrow, position ledger, oracle resolution,
// payout distribution and probability queries.
//
// Every exported operation takes a *runtime.Context that is executing as the
// engine. Callers enter the engine with ic.Call(engine.Address()).
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CallbackMethod is the name the engine registers with the oracle.
const CallbackMethod = "onOracleCallback"

// DefaultRequestTimeout bounds how long an unanswered oracle request blocks a
// new one for the same market.
const DefaultRequestTimeout = 10 * time.Minute

// TokenLedger is the native token the engine settles in.
type TokenLedger interface {
	Address() common.Address
	Transfer(ic *runtime.Context, from, to common.Address, amount int64, data []byte) error
}

// OracleRequester issues oracle requests on behalf of the engine.
type OracleRequester interface {
	Address() common.Address
	Request(ic *runtime.Context, url, filter, callback string, userData []byte, gas int64) (uint64, error)
	IsPending(ic *runtime.Context, id uint64) (bool, error)
}

// Config holds the engine's deployment parameters.
type Config struct {
	Address        common.Address
	RequestTimeout time.Duration
}

// DefaultAddress is the engine identity used when none is configured.
func DefaultAddress() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("predictx/engine")))
}

// Engine is the settlement contract. It holds no state of its own; all state
// lives in the runtime's KV store.
type Engine struct {
	addr           common.Address
	requestTimeout int64 // ms
	token          TokenLedger
	oracle         OracleRequester
	logger         *slog.Logger
}

// New creates an Engine.
func New(cfg Config, token TokenLedger, oracle OracleRequester, logger *slog.Logger) *Engine {
	if cfg.Address == (common.Address{}) {
		cfg.Address = DefaultAddress()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Engine{
		addr:           cfg.Address,
		requestTimeout: cfg.RequestTimeout.Milliseconds(),
		token:          token,
		oracle:         oracle,
		logger:         logger.With(slog.String("component", "engine")),
	}
}

// Address is the engine contract identity.
func (e *Engine) Address() common.Address { return e.addr }

func (e *Engine) enter(ic *runtime.Context, op string) error {
	if ic.Executing() != e.addr {
		return fmt.Errorf("engine: %s: %w: context is not executing the engine", op, domain.ErrInvalidState)
	}
	return nil
}
