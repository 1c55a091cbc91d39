package token_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/alanyoungcy/predictx/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr = common.HexToAddress("0xd2a4cff31913016155e38e474a2c06d08be276cf")
	admin     = common.HexToAddress("0x00000000000000000000000000000000000ad000")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	vault     = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type hook struct {
	calls  int
	caller common.Address
	from   common.Address
	amount int64
	data   []byte
	err    error
}

func (h *hook) OnTokensReceived(ic *runtime.Context, from common.Address, amount int64, data []byte) error {
	h.calls++
	h.caller = ic.Caller()
	h.from = from
	h.amount = amount
	h.data = data
	return h.err
}

func setup(t *testing.T) (*runtime.Executor, *token.Ledger) {
	t.Helper()
	x := runtime.NewExecutor(memory.NewKVStore(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	l := token.New(tokenAddr, admin)
	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: admin, Signers: []common.Address{admin}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Mint(ic, alice, 1_000)
	})
	require.NoError(t, err)
	return x, l
}

func balance(t *testing.T, x *runtime.Executor, l *token.Ledger, acct common.Address) int64 {
	t.Helper()
	b, err := runtime.Query(context.Background(), x, func(ic *runtime.Context) (int64, error) {
		return l.BalanceOf(ic, acct)
	})
	require.NoError(t, err)
	return b
}

func TestMintRequiresAdmin(t *testing.T) {
	x, l := setup(t)
	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Mint(ic, alice, 5)
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	supply, err := runtime.Query(context.Background(), x, func(ic *runtime.Context) (int64, error) {
		return l.TotalSupply(ic)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), supply)
}

func TestTransferMovesBalances(t *testing.T) {
	x, l := setup(t)
	rcpt, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, bob, 400, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance(t, x, l, alice))
	assert.Equal(t, int64(400), balance(t, x, l, bob))

	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, tokenAddr, rcpt.Events[0].Contract)
	assert.Equal(t, domain.Transfer{From: alice, To: bob, Amount: 400}, rcpt.Events[0].Payload)
}

func TestTransferRejections(t *testing.T) {
	x, l := setup(t)
	ctx := context.Background()

	_, err := x.Invoke(ctx, runtime.Invocation{Sender: bob, Signers: []common.Address{bob}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, bob, 1, nil)
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = x.Invoke(ctx, runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, bob, 1_001, nil)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = x.Invoke(ctx, runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, bob, -1, nil)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Equal(t, int64(1_000), balance(t, x, l, alice))
}

func TestTransferInvokesReceiptHook(t *testing.T) {
	x, l := setup(t)
	h := &hook{}
	l.RegisterReceiver(vault, h)

	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, vault, 250, []byte("1_yes"))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, tokenAddr, h.caller)
	assert.Equal(t, alice, h.from)
	assert.Equal(t, int64(250), h.amount)
	assert.Equal(t, []byte("1_yes"), h.data)
	assert.Equal(t, int64(250), balance(t, x, l, vault))
}

func TestHookFailureAbortsTransfer(t *testing.T) {
	x, l := setup(t)
	l.RegisterReceiver(vault, &hook{err: errors.New("rejected")})

	_, err := x.Invoke(context.Background(), runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, vault, 250, nil)
	})
	require.Error(t, err)
	assert.Equal(t, int64(1_000), balance(t, x, l, alice))
	assert.Equal(t, int64(0), balance(t, x, l, vault))
}

func TestContractMayMoveItsOwnFunds(t *testing.T) {
	x, l := setup(t)
	ctx := context.Background()
	_, err := x.Invoke(ctx, runtime.Invocation{Sender: alice, Signers: []common.Address{alice}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic, alice, vault, 100, nil)
	})
	require.NoError(t, err)

	// bob invokes the vault, which pays bob out of its own balance.
	_, err = x.Invoke(ctx, runtime.Invocation{Sender: bob, Signers: []common.Address{bob}}, func(ic *runtime.Context) (any, error) {
		return nil, l.Transfer(ic.Call(vault), vault, bob, 100, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance(t, x, l, bob))
}
