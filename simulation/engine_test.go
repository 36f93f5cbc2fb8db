package simulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/forksim/forksim/engine"
)

const (
	testChain     = 1
	testBlock     = 100
	testTimestamp = 1_700_000_000
)

// fakeEngine records what the simulation layer asks of a context.
type fakeEngine struct {
	chainID uint64
	block   uint64
	time    uint64

	mu        sync.Mutex
	calls     []*engine.CallRequest
	commits   int
	times     []uint64
	storage   map[common.Address]map[common.Hash]common.Hash
	overrides int
	ctxErrs   []error // ctx.Err() seen by every call

	overrideErr error
	callErr     error
	delay       time.Duration
	gate        chan struct{} // calls wait on it when set
	onCall      func()        // runs after every successful call

	active  atomic.Int32
	overlap atomic.Bool
	closed  atomic.Bool
}

func newFakeEngine(chainID, block uint64) *fakeEngine {
	return &fakeEngine{
		chainID: chainID,
		block:   block,
		time:    testTimestamp,
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (e *fakeEngine) Call(ctx context.Context, req *engine.CallRequest) (*engine.CallResult, error) {
	return e.execute(ctx, req, false)
}

func (e *fakeEngine) CallCommitting(ctx context.Context, req *engine.CallRequest, gasLimit uint64) (*engine.CallResult, error) {
	return e.execute(ctx, req, true)
}

func (e *fakeEngine) execute(ctx context.Context, req *engine.CallRequest, commit bool) (*engine.CallResult, error) {
	if e.active.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.active.Add(-1)

	if e.gate != nil {
		<-e.gate
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.closed.Load() {
		return nil, errors.New("use of closed context")
	}
	if e.callErr != nil {
		return nil, e.callErr
	}
	if e.onCall != nil {
		defer e.onCall()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	e.times = append(e.times, e.time)
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	if commit {
		e.commits++
	}
	res := &engine.CallResult{
		GasUsed:     21000 + uint64(len(req.Data)),
		BlockNumber: e.block,
		Success:     true,
		ExitReason:  engine.ExitStop,
		ReturnData:  req.Data,
		Trace: []*engine.CallTraceNode{
			{Parent: -1, Kind: "CALL", From: req.From, To: req.To, Value: req.Value},
		},
		Logs: []*types.Log{{Address: req.To, Topics: []common.Hash{{0x01}}}},
	}
	if req.FormatTrace {
		formatted := "Traces:\n"
		res.FormattedTrace = &formatted
	}
	return res, nil
}

func (e *fakeEngine) OverrideAccount(ctx context.Context, addr common.Address, override *engine.AccountOverride) error {
	if e.overrideErr != nil {
		return e.overrideErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides++
	if override.Storage == nil {
		return nil
	}
	if !override.Storage.Diff || e.storage[addr] == nil {
		e.storage[addr] = make(map[common.Hash]common.Hash)
	}
	for k, v := range override.Storage.Slots {
		e.storage[addr][k] = v
	}
	return nil
}

func (e *fakeEngine) SetBlock(number uint64)      { e.block = number }
func (e *fakeEngine) Block() uint64               { return e.block }
func (e *fakeEngine) SetBlockTimestamp(ts uint64) { e.time = ts }
func (e *fakeEngine) BlockTimestamp() uint64      { return e.time }
func (e *fakeEngine) ChainID() uint64             { return e.chainID }
func (e *fakeEngine) Close()                      { e.closed.Store(true) }

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeFactory hands out fake engines.
type fakeFactory struct {
	chainID uint64
	err     error
	setup   func(*fakeEngine)

	mu      sync.Mutex
	opts    []engine.Options
	engines []*fakeEngine
}

func (f *fakeFactory) New(ctx context.Context, opts engine.Options) (Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	block := uint64(testBlock)
	if opts.BlockNumber != nil {
		block = *opts.BlockNumber
	}
	evm := newFakeEngine(f.chainID, block)
	if f.setup != nil {
		f.setup(evm)
	}
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.engines = append(f.engines, evm)
	f.mu.Unlock()
	return evm, nil
}

func (f *fakeFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[len(f.engines)-1]
}

func uint64p(v uint64) *uint64 { return &v }

func newTx(block *uint64) *SimulationRequest {
	return &SimulationRequest{
		ChainID:     testChain,
		From:        common.HexToAddress("0x01"),
		To:          common.HexToAddress("0x02"),
		GasLimit:    *NewQuantity(1_000_000),
		BlockNumber: block,
	}
}
