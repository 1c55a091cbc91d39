// Package runtime is the deterministic execution environment the contracts
// run in: an atomic write-set overlay over a persistent KV store, caller and
// witness identity, a runtime timestamp and buffered events.
package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Invocation identifies a top-level invocation and the accounts that
// authorized it.
type Invocation struct {
	ID      uuid.UUID
	Sender  common.Address
	Signers []common.Address
}

// frame is the state shared by every call in one invocation.
type frame struct {
	ctx      context.Context
	inv      Invocation
	now      int64
	readOnly bool
	ov       *overlay
	events   []domain.Event
	scratch  map[string]int64
}

// Context is the view a contract has of the running invocation. Nested calls
// share the frame; only the caller and executing identities differ.
type Context struct {
	f         *frame
	caller    common.Address
	executing common.Address
}

// Context returns the Go context of the invocation.
func (c *Context) Context() context.Context { return c.f.ctx }

// Caller is the identity that made the current call. For a top-level call it
// is the invocation sender.
func (c *Context) Caller() common.Address { return c.caller }

// Executing is the identity of the contract currently running.
func (c *Context) Executing() common.Address { return c.executing }

// Sender is the account that submitted the invocation.
func (c *Context) Sender() common.Address { return c.f.inv.Sender }

// InvocationID identifies the invocation (the batch).
func (c *Context) InvocationID() uuid.UUID { return c.f.inv.ID }

// Time is the runtime timestamp in epoch milliseconds, fixed for the whole
// invocation.
func (c *Context) Time() int64 { return c.f.now }

// CheckWitness reports whether acct authorized the current call, either as a
// signer of the invocation or as the immediate caller.
func (c *Context) CheckWitness(acct common.Address) bool {
	if acct == c.caller {
		return true
	}
	for _, s := range c.f.inv.Signers {
		if s == acct {
			return true
		}
	}
	return false
}

// Call returns the context for a nested call into callee. The callee sees the
// current executing contract as its caller.
func (c *Context) Call(callee common.Address) *Context {
	return &Context{f: c.f, caller: c.executing, executing: callee}
}

// Get reads key through the write-set overlay. A missing key yields nil.
func (c *Context) Get(key string) ([]byte, error) {
	v, _, err := c.f.ov.get(c.f.ctx, key)
	return v, err
}

// Has reports whether key exists.
func (c *Context) Has(key string) (bool, error) {
	_, ok, err := c.f.ov.get(c.f.ctx, key)
	return ok, err
}

// Put writes key in the overlay.
func (c *Context) Put(key string, value []byte) error {
	if c.f.readOnly {
		return fmt.Errorf("runtime: put %s: %w: read-only invocation", key, domain.ErrInvalidState)
	}
	c.f.ov.put(key, value)
	return nil
}

// Delete removes key in the overlay.
func (c *Context) Delete(key string) error {
	if c.f.readOnly {
		return fmt.Errorf("runtime: delete %s: %w: read-only invocation", key, domain.ErrInvalidState)
	}
	c.f.ov.del(key)
	return nil
}

// GetString reads a text value, "" when absent.
func (c *Context) GetString(key string) (string, error) {
	v, err := c.Get(key)
	return string(v), err
}

// PutString writes a text value.
func (c *Context) PutString(key, value string) error {
	return c.Put(key, []byte(value))
}

// GetInt reads a decimal integer, 0 when absent.
func (c *Context) GetInt(key string) (int64, error) {
	v, err := c.Get(key)
	if err != nil || len(v) == 0 {
		return 0, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("runtime: decode int %s: %w", key, err)
	}
	return n, nil
}

// PutInt writes a decimal integer.
func (c *Context) PutInt(key string, n int64) error {
	return c.Put(key, []byte(strconv.FormatInt(n, 10)))
}

// GetFlag reads a Flag, false when absent.
func (c *Context) GetFlag(key string) (domain.Flag, error) {
	v, err := c.Get(key)
	if err != nil {
		return false, err
	}
	return domain.DecodeFlag(v), nil
}

// PutFlag writes the canonical Flag encoding.
func (c *Context) PutFlag(key string, f domain.Flag) error {
	return c.Put(key, f.Bytes())
}

// Emit buffers an event attributed to the executing contract.
func (c *Context) Emit(p domain.EventPayload) {
	c.f.events = append(c.f.events, domain.Event{
		InvocationID: c.f.inv.ID,
		Index:        len(c.f.events),
		Contract:     c.executing,
		Name:         p.EventName(),
		Timestamp:    c.f.now,
		Payload:      p,
	})
}

// Scratch is invocation-scoped memory. It is never persisted and is dropped
// when the invocation ends.
func (c *Context) Scratch() map[string]int64 { return c.f.scratch }
