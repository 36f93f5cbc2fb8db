package simulation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/forksim/forksim/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BlockTime is the number of seconds the timestamp advances whenever a
// transaction moves the context to another block.
const BlockTime = 12

// Runner executes batches of transactions against one context.
type Runner struct {
	tracer trace.Tracer
}

// NewRunner creates a runner reporting spans to the global tracer provider.
func NewRunner() *Runner {
	return &Runner{tracer: otel.Tracer("github.com/forksim/forksim/simulation")}
}

// Run executes txs in order against evm, committing their effects when
// commit is set. The first failing transaction aborts the batch; effects of
// the transactions before it are kept.
//
// Cancelling ctx does not interrupt a batch once it started: a session must
// not be left with half of a batch applied because the client went away.
// Fork reads stay bounded by the engine's own request timeout.
func (r *Runner) Run(ctx context.Context, evm Engine, txs []*SimulationRequest, commit bool) ([]*SimulationResponse, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	ctx = context.WithoutCancel(ctx)
	defer batchTimer.UpdateSince(time.Now())

	first := txs[0]
	if evm.ChainID() != first.ChainID {
		return nil, fmt.Errorf("%w: context is %d, requested %d", ErrIncorrectChainID, evm.ChainID(), first.ChainID)
	}
	results := make([]*SimulationResponse, 0, len(txs))
	for i, tx := range txs {
		if tx.ChainID != first.ChainID {
			return nil, fmt.Errorf("%w: transaction %d is on %d, expected %d", ErrMultipleChainIDs, i, tx.ChainID, first.ChainID)
		}
		if err := advanceBlock(evm, first, tx); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		res, err := r.runOne(ctx, evm, tx, commit)
		if err != nil {
			txFailMeter.Mark(1)
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txMeter.Mark(1)
		results = append(results, res)
	}
	return results, nil
}

// advanceBlock moves the context to the block the transaction asks for.
// Blocks never go backwards, neither below the batch's first block nor below
// the context's current one.
func advanceBlock(evm Engine, first, tx *SimulationRequest) error {
	if tx.BlockNumber == nil || *tx.BlockNumber == evm.Block() {
		return nil
	}
	number := *tx.BlockNumber
	if (first.BlockNumber != nil && number < *first.BlockNumber) || number < evm.Block() {
		return fmt.Errorf("%w: %d after %d", ErrInvalidBlockNumbers, number, evm.Block())
	}
	evm.SetBlock(number)
	evm.SetBlockTimestamp(evm.BlockTimestamp() + BlockTime)
	return nil
}

func (r *Runner) runOne(ctx context.Context, evm Engine, tx *SimulationRequest, commit bool) (*SimulationResponse, error) {
	ctx, span := r.tracer.Start(ctx, "simulation.transaction", trace.WithAttributes(
		attribute.Int64("chain.id", int64(tx.ChainID)),
		attribute.String("tx.to", tx.To.Hex()),
		attribute.Bool("tx.commit", commit),
	))
	defer span.End()

	call, gasLimit, err := tx.callRequest()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := applyOverrides(ctx, evm, tx.StateOverrides); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var res *engine.CallResult
	if commit {
		res, err = evm.CallCommitting(ctx, call, gasLimit)
	} else {
		res, err = evm.Call(ctx, call)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, engine.ErrIntrinsicGas) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, &ExecutionError{Err: err}
	}
	span.SetAttributes(
		attribute.Int64("tx.gas_used", int64(res.GasUsed)),
		attribute.String("tx.exit_reason", res.ExitReason),
	)
	log.Debug("Simulated transaction", "from", tx.From, "to", tx.To, "block", res.BlockNumber,
		"commit", commit, "success", res.Success, "gas", res.GasUsed)
	return newResponse(res), nil
}

// applyOverrides patches the accounts in address order.
func applyOverrides(ctx context.Context, evm Engine, overrides map[common.Address]StateOverride) error {
	addrs := make([]common.Address, 0, len(overrides))
	for addr := range overrides {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, addr := range addrs {
		override := overrides[addr]
		if err := evm.OverrideAccount(ctx, addr, override.accountOverride()); err != nil {
			return fmt.Errorf("%w %s: %v", ErrOverrideFailed, addr, err)
		}
		overrideMeter.Mark(1)
	}
	return nil
}
