package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// ErrIntrinsicGas is returned when the gas limit does not cover the base
// transaction cost.
var ErrIntrinsicGas = errors.New("intrinsic gas too low")

// Call executes the request without keeping any of its state changes.
func (e *Evm) Call(ctx context.Context, req *CallRequest) (*CallResult, error) {
	return e.execute(ctx, req, e.gasLimit, false)
}

// CallCommitting executes the request and keeps its state changes for the
// following calls.
func (e *Evm) CallCommitting(ctx context.Context, req *CallRequest, gasLimit uint64) (*CallResult, error) {
	return e.execute(ctx, req, gasLimit, true)
}

func (e *Evm) execute(ctx context.Context, req *CallRequest, gas uint64, commit bool) (*CallResult, error) {
	if e.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	defer callTimer.UpdateSince(start)

	intrinsic := intrinsicGas(req.Data, req.AccessList)
	if gas < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, gas, intrinsic)
	}
	e.reader.bind(ctx)
	if err := e.prefetch.prepare(ctx, req, gas); err != nil {
		e.reader.unbind()
		return nil, err
	}
	e.txIndex++
	txHash := e.txHash()
	e.state.SetTxContext(txHash, e.txIndex)

	snapshot := e.state.Snapshot()
	refundBefore := e.state.GetRefund()

	tracer := newCallTracer(func() {
		for _, tuple := range req.AccessList {
			e.state.AddAddressToAccessList(tuple.Address)
			for _, slot := range tuple.StorageKeys {
				e.state.AddSlotToAccessList(tuple.Address, slot)
			}
		}
	})
	ret, leftover, err := runtime.Call(req.To, req.Data, e.runtimeConfig(ctx, req, gas-intrinsic, tracer))

	// A failed fork read executed against a zero value; nothing of the
	// call can be trusted.
	if readErr := e.reader.unbind(); readErr != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, readErr
	}
	used := gas - leftover
	if refund := e.state.GetRefund(); err == nil && refund > refundBefore {
		used -= min(refund-refundBefore, used/params.RefundQuotientEIP3529)
	}
	logs := e.txLogs(txHash)

	if commit {
		e.state.SetNonce(req.From, e.state.GetNonce(req.From)+1, tracing.NonceChangeUnspecified)
		e.state.Finalise(true)
	} else {
		e.state.RevertToSnapshot(snapshot)
	}

	result := &CallResult{
		GasUsed:     used,
		BlockNumber: e.block,
		Success:     err == nil,
		Trace:       tracer.trace(),
		Logs:        logs,
		ExitReason:  exitReason(err, tracer.lastTopOp),
		ReturnData:  common.CopyBytes(ret),
	}
	if !result.Success {
		callRevertMeter.Mark(1)
	}
	if req.FormatTrace {
		formatted := NewTraceWriter(e.chainID, e.ident, e.cfg.TraceColor).Format(ctx, result.Trace)
		result.FormattedTrace = &formatted
	}
	e.log.Debug("Executed call", "from", req.From, "to", req.To, "commit", commit, "block", e.block,
		"gas", result.GasUsed, "exit", result.ExitReason, "elapsed", common.PrettyDuration(time.Since(start)))
	return result, nil
}

func (e *Evm) runtimeConfig(ctx context.Context, req *CallRequest, gas uint64, tracer *callTracer) *runtime.Config {
	cfg := &runtime.Config{
		ChainConfig: e.chain,
		Origin:      req.From,
		Coinbase:    e.fork.Coinbase,
		BlockNumber: new(big.Int).SetUint64(e.block),
		Time:        e.time,
		GasLimit:    gas,
		GasPrice:    new(big.Int),
		Value:       new(big.Int),
		Random:      &e.fork.MixDigest,
		State:       e.state,
		GetHashFn:   e.blockHashFn(ctx),
		EVMConfig: vm.Config{
			Tracer:    tracer.hooks(),
			NoBaseFee: true,
		},
	}
	if req.Value != nil {
		cfg.Value = req.Value.ToBig()
	}
	if e.fork.Difficulty != nil {
		cfg.Difficulty = e.fork.Difficulty.ToInt()
	}
	if e.fork.BaseFee != nil {
		cfg.BaseFee = e.fork.BaseFee.ToInt()
	}
	return cfg
}

// blockHashFn serves BLOCKHASH from the fork. Blocks past the fork block were
// never mined and hash to zero.
func (e *Evm) blockHashFn(ctx context.Context) func(uint64) common.Hash {
	return func(n uint64) common.Hash {
		if n > uint64(e.fork.Number) {
			return common.Hash{}
		}
		if n == uint64(e.fork.Number) {
			return e.fork.Hash
		}
		hash, err := e.source.BlockHash(ctx, n)
		if err != nil {
			e.log.Warn("Failed to load block hash", "number", n, "err", err)
			return common.Hash{}
		}
		return hash
	}
}

// txHash derives a unique hash the logs of one call are filed under.
func (e *Evm) txHash() common.Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:], e.chainID)
	binary.BigEndian.PutUint64(buf[8:], uint64(e.fork.Number))
	binary.BigEndian.PutUint64(buf[16:], uint64(e.txIndex))
	return crypto.Keccak256Hash(e.fork.Hash[:], buf[:])
}

func (e *Evm) txLogs(txHash common.Hash) []*types.Log {
	var logs []*types.Log
	for _, l := range e.state.Logs() {
		if l.TxHash == txHash {
			logs = append(logs, l)
		}
	}
	return logs
}

// intrinsicGas is the cost charged before execution starts: the base cost,
// calldata and the access list.
func intrinsicGas(data []byte, accessList types.AccessList) uint64 {
	gas := params.TxGas
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	gas += uint64(len(accessList)) * params.TxAccessListAddressGas
	gas += uint64(accessList.StorageKeys()) * params.TxAccessListStorageKeyGas
	return gas
}
