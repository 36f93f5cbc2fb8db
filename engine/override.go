package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
)

// ErrOverrideFailed is returned when an override could not be applied.
var ErrOverrideFailed = errors.New("failed to override account")

// OverrideAccount patches an account of the context. The change is permanent
// for the context; it is not undone by read-only calls or later failures.
func (e *Evm) OverrideAccount(ctx context.Context, addr common.Address, override *AccountOverride) error {
	if e.closed {
		return ErrClosed
	}
	// Load the fork account first so the fields not overridden keep the
	// fork's values.
	e.reader.bind(ctx)
	e.state.Exist(addr)
	if err := e.reader.unbind(); err != nil {
		return fmt.Errorf("%w %s: %v", ErrOverrideFailed, addr, err)
	}
	if override.Balance != nil {
		e.state.SetBalance(addr, override.Balance, tracing.BalanceChangeUnspecified)
	}
	if override.Nonce != nil {
		e.state.SetNonce(addr, *override.Nonce, tracing.NonceChangeUnspecified)
	}
	if override.Code != nil {
		e.state.SetCode(addr, override.Code)
	}
	if override.Storage != nil {
		if override.Storage.Diff {
			for slot, value := range override.Storage.Slots {
				e.state.SetState(addr, slot, value)
			}
		} else {
			e.prefetch.own(addr)
			e.state.SetStorage(addr, override.Storage.Slots)
		}
	}
	e.log.Debug("Overrode account", "addr", addr, "balance", override.Balance != nil,
		"nonce", override.Nonce != nil, "code", override.Code != nil, "storage", override.Storage != nil)
	return nil
}
