package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrOracleError         = errors.New("oracle error")
	ErrInvalidFormat       = errors.New("invalid format")
	ErrEmptyPool           = errors.New("empty pool")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrAlreadyResolved is reported when a market has already been resolved.
// It matches ErrInvalidState under errors.Is.
var ErrAlreadyResolved = fmt.Errorf("%w: market already resolved", ErrInvalidState)
