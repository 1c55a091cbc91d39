// Package token implements the native fungible token the engine settles in.
package token

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
)

// Key layout:
//
//	tok:bal:{account}  balance (decimal)
//	tok:supply         total supply (decimal)
const (
	keyBalancePrefix = "tok:bal:"
	keySupply        = "tok:supply"
)

// Receiver is implemented by contracts that want to be told about incoming
// transfers. The hook runs in a nested call whose caller is the token.
type Receiver interface {
	OnTokensReceived(ic *runtime.Context, from common.Address, amount int64, data []byte) error
}

// Ledger is a KV-backed fungible token.
type Ledger struct {
	addr      common.Address
	admin     common.Address
	receivers map[common.Address]Receiver
}

// New creates a Ledger deployed at addr. Only admin may mint.
func New(addr, admin common.Address) *Ledger {
	return &Ledger{
		addr:      addr,
		admin:     admin,
		receivers: make(map[common.Address]Receiver),
	}
}

// Address is the token contract identity.
func (l *Ledger) Address() common.Address { return l.addr }

// RegisterReceiver installs the receipt hook of contract. Registration
// happens during wiring, before any invocation runs.
func (l *Ledger) RegisterReceiver(contract common.Address, r Receiver) {
	l.receivers[contract] = r
}

func balanceKey(acct common.Address) string {
	return keyBalancePrefix + acct.Hex()
}

// BalanceOf returns the balance of acct.
func (l *Ledger) BalanceOf(ic *runtime.Context, acct common.Address) (int64, error) {
	return ic.GetInt(balanceKey(acct))
}

// TotalSupply returns the minted supply.
func (l *Ledger) TotalSupply(ic *runtime.Context) (int64, error) {
	return ic.GetInt(keySupply)
}

// Transfer moves amount from one account to another on behalf of the
// contract executing in ic. The sender must be the caller of the token or a
// witness of the invocation. When to has a receipt hook it runs after the
// balances move; a hook error aborts the transfer.
func (l *Ledger) Transfer(ic *runtime.Context, from, to common.Address, amount int64, data []byte) error {
	tc := ic.Call(l.addr)

	if amount < 0 {
		return fmt.Errorf("token: transfer: %w: negative amount", domain.ErrInvalidArgument)
	}
	if !tc.CheckWitness(from) {
		return fmt.Errorf("token: transfer from %s: %w", from.Hex(), domain.ErrUnauthorized)
	}

	fromBal, err := tc.GetInt(balanceKey(from))
	if err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	if fromBal < amount {
		return fmt.Errorf("token: transfer %d from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}

	if from != to && amount > 0 {
		if err := l.setBalance(tc, from, fromBal-amount); err != nil {
			return err
		}
		toBal, err := tc.GetInt(balanceKey(to))
		if err != nil {
			return fmt.Errorf("token: transfer: %w", err)
		}
		if toBal > math.MaxInt64-amount {
			return fmt.Errorf("token: transfer: %w: balance overflow", domain.ErrInvalidArgument)
		}
		if err := l.setBalance(tc, to, toBal+amount); err != nil {
			return err
		}
	}
	tc.Emit(domain.Transfer{From: from, To: to, Amount: amount})

	if r, ok := l.receivers[to]; ok {
		if err := r.OnTokensReceived(tc.Call(to), from, amount, data); err != nil {
			return err
		}
	}
	return nil
}

// Mint creates amount new tokens for to. The admin must witness the call.
func (l *Ledger) Mint(ic *runtime.Context, to common.Address, amount int64) error {
	tc := ic.Call(l.addr)

	if amount <= 0 {
		return fmt.Errorf("token: mint: %w: amount must be positive", domain.ErrInvalidArgument)
	}
	if !tc.CheckWitness(l.admin) {
		return fmt.Errorf("token: mint: %w", domain.ErrUnauthorized)
	}

	supply, err := tc.GetInt(keySupply)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if supply > math.MaxInt64-amount {
		return fmt.Errorf("token: mint: %w: supply overflow", domain.ErrInvalidArgument)
	}
	bal, err := tc.GetInt(balanceKey(to))
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if err := tc.PutInt(keySupply, supply+amount); err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if err := l.setBalance(tc, to, bal+amount); err != nil {
		return err
	}
	tc.Emit(domain.Transfer{From: common.Address{}, To: to, Amount: amount})
	return nil
}

func (l *Ledger) setBalance(tc *runtime.Context, acct common.Address, bal int64) error {
	var err error
	if bal == 0 {
		err = tc.Delete(balanceKey(acct))
	} else {
		err = tc.PutInt(balanceKey(acct), bal)
	}
	if err != nil {
		return fmt.Errorf("token: set balance %s: %w", acct.Hex(), err)
	}
	return nil
}
