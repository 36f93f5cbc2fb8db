package simulation

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/forksim/forksim/engine"
)

// Engine is one forked execution context. Implementations need not be safe
// for concurrent use; the registry serializes access to session contexts.
type Engine interface {
	Call(ctx context.Context, req *engine.CallRequest) (*engine.CallResult, error)
	CallCommitting(ctx context.Context, req *engine.CallRequest, gasLimit uint64) (*engine.CallResult, error)
	OverrideAccount(ctx context.Context, addr common.Address, override *engine.AccountOverride) error

	SetBlock(number uint64)
	Block() uint64
	SetBlockTimestamp(ts uint64)
	BlockTimestamp() uint64
	ChainID() uint64

	Close()
}

// EngineFactory creates execution contexts.
type EngineFactory interface {
	New(ctx context.Context, opts engine.Options) (Engine, error)
}

// EngineFactoryFunc adapts a function to EngineFactory.
type EngineFactoryFunc func(ctx context.Context, opts engine.Options) (Engine, error)

// New implements EngineFactory.
func (f EngineFactoryFunc) New(ctx context.Context, opts engine.Options) (Engine, error) {
	return f(ctx, opts)
}

// FromFactory exposes an engine factory to the simulation layer.
func FromFactory(f *engine.Factory) EngineFactory {
	return EngineFactoryFunc(func(ctx context.Context, opts engine.Options) (Engine, error) {
		evm, err := f.New(ctx, opts)
		if err != nil {
			return nil, err
		}
		return evm, nil
	})
}

// ContextOptions describe the context a request runs in.
type ContextOptions struct {
	ChainID        uint64
	BlockNumber    *uint64
	BlockTimestamp *uint64
	GasLimit       uint64
	ForkURL        string
	EtherscanKey   string
}

// openContext creates a context and checks that it is bound to the expected
// chain. On mismatch the context is closed again.
func openContext(ctx context.Context, factory EngineFactory, opts ContextOptions) (Engine, error) {
	evm, err := factory.New(ctx, engine.Options{
		ForkURL:      opts.ForkURL,
		BlockNumber:  opts.BlockNumber,
		GasLimit:     opts.GasLimit,
		EtherscanKey: opts.EtherscanKey,
	})
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	if evm.ChainID() != opts.ChainID {
		evm.Close()
		return nil, fmt.Errorf("%w: fork is %d, requested %d", ErrIncorrectChainID, evm.ChainID(), opts.ChainID)
	}
	if opts.BlockTimestamp != nil {
		evm.SetBlockTimestamp(*opts.BlockTimestamp)
	}
	return evm, nil
}
