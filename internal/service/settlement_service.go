// Package service is the boundary between transports (HTTP, CLI, app
// bootstrap) and the contracts: it verifies signed envelopes, dispatches their
// calls inside one atomic invocation and answers read-only queries.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/token"
)

// invocationNamespace derives deterministic invocation ids from sender+nonce.
var invocationNamespace = uuid.MustParse("5b1f3c1e-8f0a-4c55-9d7e-2f64a1c0b7e3")

const noncePrefix = "nonce:"

// CallResult is the outcome of one call in an envelope.
type CallResult struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Result   any    `json:"result,omitempty"`
}

// SettlementService executes envelopes against the engine and token.
type SettlementService struct {
	exec     *runtime.Executor
	eng      *engine.Engine
	tok      *token.Ledger
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	exec *runtime.Executor,
	eng *engine.Engine,
	tok *token.Ledger,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		exec:     exec,
		eng:      eng,
		tok:      tok,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// Submit verifies env's signature and executes its calls with the recovered
// sender as the only signer.
func (s *SettlementService) Submit(ctx context.Context, env domain.Envelope) (runtime.Receipt, error) {
	if err := s.check(env); err != nil {
		return runtime.Receipt{}, fmt.Errorf("settlement_service: submit: %w", err)
	}
	if env.Signature == "" {
		return runtime.Receipt{}, fmt.Errorf("settlement_service: submit: %w: missing signature", domain.ErrUnauthorized)
	}
	sender, err := crypto.RecoverEnvelope(env)
	if err != nil {
		return runtime.Receipt{}, fmt.Errorf("settlement_service: submit: %w", err)
	}
	return s.Execute(ctx, sender, env.Nonce, env.Calls)
}

// Execute runs calls as one invocation authorized by sender. Each
// (sender, nonce) pair is accepted once.
func (s *SettlementService) Execute(ctx context.Context, sender common.Address, nonce string, calls []domain.Call) (runtime.Receipt, error) {
	inv := runtime.Invocation{
		ID:      uuid.NewSHA1(invocationNamespace, []byte(sender.Hex()+":"+nonce)),
		Sender:  sender,
		Signers: []common.Address{sender},
	}

	rcpt, err := s.exec.Invoke(ctx, inv, func(root *runtime.Context) (any, error) {
		nk := noncePrefix + sender.Hex() + ":" + nonce
		used, err := root.Has(nk)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, fmt.Errorf("%w: nonce %q already used", domain.ErrInvalidState, nonce)
		}
		if err := root.PutFlag(nk, true); err != nil {
			return nil, err
		}

		results := make([]CallResult, 0, len(calls))
		for i, c := range calls {
			out, err := s.dispatch(root, c)
			if err != nil {
				return nil, fmt.Errorf("call %d (%s.%s): %w", i, c.Contract, c.Method, err)
			}
			results = append(results, CallResult{Contract: c.Contract, Method: c.Method, Result: out})
		}
		return results, nil
	})
	if err != nil {
		s.logger.InfoContext(ctx, "settlement_service: invocation rejected",
			slog.String("invocation_id", inv.ID.String()),
			slog.String("sender", sender.Hex()),
			slog.String("error", err.Error()),
		)
		return rcpt, fmt.Errorf("settlement_service: execute: %w", err)
	}

	s.logger.InfoContext(ctx, "settlement_service: invocation committed",
		slog.String("invocation_id", inv.ID.String()),
		slog.String("sender", sender.Hex()),
		slog.Int("calls", len(calls)),
		slog.Int("events", len(rcpt.Events)),
	)
	return rcpt, nil
}

func (s *SettlementService) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, verrs.Error())
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err.Error())
	}
	return nil
}

// decode unmarshals call args into dst and validates them.
func (s *SettlementService) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: args: %s", domain.ErrInvalidArgument, err.Error())
	}
	return s.check(dst)
}
