// Package app provides the top-level application lifecycle management for the
// settlement engine. It wires together all dependencies (event log, caches,
// blob storage, contracts and services) and starts the appropriate goroutines
// based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/config"
	"github.com/alanyoungcy/predictx/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, applies the genesis
// allocation, selects the operating mode, starts the corresponding goroutines,
// and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Settlement != nil && len(a.cfg.Token.Genesis) > 0 {
		if err := a.genesis(ctx, deps.Settlement); err != nil {
			return fmt.Errorf("app: genesis: %w", err)
		}
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "serve":
		return a.ServeMode(ctx, deps)
	case "oracle":
		return a.OracleMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) genesis(ctx context.Context, svc *service.SettlementService) error {
	allocs, err := GenesisAllocations(a.cfg.Token)
	if err != nil {
		return err
	}
	minted, err := svc.Genesis(ctx, common.HexToAddress(a.cfg.Token.Admin), allocs)
	if err != nil {
		return err
	}
	if minted {
		a.logger.InfoContext(ctx, "genesis allocation minted", slog.Int("accounts", len(allocs)))
	}
	return nil
}

// GenesisAllocations converts the configured whole-token amounts into base
// units.
func GenesisAllocations(cfg config.TokenConfig) ([]service.Allocation, error) {
	scale := decimal.New(1, cfg.Decimals)
	limit := decimal.NewFromInt(math.MaxInt64)

	out := make([]service.Allocation, 0, len(cfg.Genesis))
	for i, g := range cfg.Genesis {
		amt, err := decimal.NewFromString(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: amount %q: %w", i, g.Amount, err)
		}
		units := amt.Mul(scale)
		if !units.Equal(units.Truncate(0)) {
			return nil, fmt.Errorf("genesis[%d]: amount %s has more than %d decimals", i, g.Amount, cfg.Decimals)
		}
		if !units.IsPositive() || units.GreaterThan(limit) {
			return nil, fmt.Errorf("genesis[%d]: amount %s out of range", i, g.Amount)
		}
		out = append(out, service.Allocation{
			Account: common.HexToAddress(g.Address),
			Amount:  units.IntPart(),
		})
	}
	return out, nil
}
