package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// forkDatabase is a state database whose readers fall through to the fork.
// Tries are still served by the wrapped in-memory database.
type forkDatabase struct {
	state.Database
	reader *forkReader
}

// Reader implements state.Database. Every root resolves to the fork.
func (db *forkDatabase) Reader(common.Hash) (state.Reader, error) {
	return db.reader, nil
}

// forkReader implements state.Reader on top of a Source. The StateDB asks it
// for every account, slot and code it has not seen yet, so anything the
// context never wrote reads as the fork's value, whatever path execution
// takes. Fork state at the fork block is immutable; reads are memoized for
// the lifetime of the context.
//
// The reader is driven by the goroutine executing the context only. Fork
// reads issued during execution run under the context bound by bind.
type forkReader struct {
	source Source
	ctx    context.Context
	err    error // first failed read since bind

	accounts map[common.Address]*Account
	codes    map[common.Hash][]byte
	slots    map[slotKey]common.Hash
}

func newForkReader(source Source) *forkReader {
	return &forkReader{
		source:   source,
		ctx:      context.Background(),
		accounts: make(map[common.Address]*Account),
		codes:    make(map[common.Hash][]byte),
		slots:    make(map[slotKey]common.Hash),
	}
}

// bind sets the context of the following fork reads and clears the
// previous failure.
func (r *forkReader) bind(ctx context.Context) {
	r.ctx, r.err = ctx, nil
}

// unbind returns the first read failure since bind. The StateDB only logs
// such failures and carries on with zero values, so callers must check.
func (r *forkReader) unbind() error {
	err := r.err
	r.ctx, r.err = context.Background(), nil
	return err
}

func (r *forkReader) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	return err
}

// Account implements state.Reader. Empty fork accounts do not exist.
func (r *forkReader) Account(addr common.Address) (*types.StateAccount, error) {
	acc, err := r.account(addr)
	if err != nil {
		return nil, err
	}
	empty := acc.Nonce == 0 && len(acc.Code) == 0 && (acc.Balance == nil || acc.Balance.IsZero())
	if empty {
		return nil, nil
	}
	codeHash := types.EmptyCodeHash
	if len(acc.Code) > 0 {
		codeHash = crypto.Keccak256Hash(acc.Code)
		r.codes[codeHash] = acc.Code
	}
	balance := new(uint256.Int)
	if acc.Balance != nil {
		balance.Set(acc.Balance)
	}
	return &types.StateAccount{
		Nonce:    acc.Nonce,
		Balance:  balance,
		Root:     types.EmptyRootHash,
		CodeHash: codeHash.Bytes(),
	}, nil
}

// Storage implements state.Reader.
func (r *forkReader) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := slotKey{addr, slot}
	if value, ok := r.slots[key]; ok {
		return value, nil
	}
	start := time.Now()
	value, err := r.source.Storage(r.ctx, addr, slot)
	storageFetchTimer.UpdateSince(start)
	if err != nil {
		return common.Hash{}, r.fail(fmt.Errorf("load slot %s/%s: %w", addr, slot, err))
	}
	r.slots[key] = value
	return value, nil
}

// Code implements state.Reader.
func (r *forkReader) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if code, ok := r.codes[codeHash]; ok {
		return code, nil
	}
	acc, err := r.account(addr)
	if err != nil {
		return nil, err
	}
	return acc.Code, nil
}

// CodeSize implements state.Reader.
func (r *forkReader) CodeSize(addr common.Address, codeHash common.Hash) (int, error) {
	code, err := r.Code(addr, codeHash)
	return len(code), err
}

func (r *forkReader) account(addr common.Address) (*Account, error) {
	if acc, ok := r.accounts[addr]; ok {
		return acc, nil
	}
	start := time.Now()
	acc, err := r.source.Account(r.ctx, addr)
	accountFetchTimer.UpdateSince(start)
	if err != nil {
		return nil, r.fail(fmt.Errorf("load account %s: %w", addr, err))
	}
	r.accounts[addr] = acc
	return acc, nil
}

// hasAccount and hasSlot report whether a read would be served locally.
func (r *forkReader) hasAccount(addr common.Address) bool {
	_, ok := r.accounts[addr]
	return ok
}

func (r *forkReader) hasSlot(key slotKey) bool {
	_, ok := r.slots[key]
	return ok
}
