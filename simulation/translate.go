package simulation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/forksim/forksim/engine"
)

// callRequest converts the transaction into the engine's call shape.
func (tx *SimulationRequest) callRequest() (*engine.CallRequest, uint64, error) {
	gasLimit, ok := tx.GasLimit.Uint64()
	if !ok {
		return nil, 0, fmt.Errorf("%w: gas limit %s out of range", ErrInvalidRequest, tx.GasLimit)
	}
	call := &engine.CallRequest{
		From:        tx.From,
		To:          tx.To,
		Data:        tx.Data,
		AccessList:  tx.AccessList.toTypes(),
		FormatTrace: tx.FormatTrace,
	}
	if tx.Value != nil {
		call.Value = tx.Value.Int()
	}
	return call, gasLimit, nil
}

// contextOptions derives the options of a context created for tx.
func (tx *SimulationRequest) contextOptions() (ContextOptions, error) {
	return newContextOptions(tx.ChainID, tx.GasLimit, tx.BlockNumber, tx.BlockTimestamp)
}

func (req *StatefulSimulationRequest) contextOptions() (ContextOptions, error) {
	return newContextOptions(req.ChainID, req.GasLimit, req.BlockNumber, req.BlockTimestamp)
}

func newContextOptions(chainID uint64, gas Quantity, block *uint64, ts *Quantity) (ContextOptions, error) {
	gasLimit, ok := gas.Uint64()
	if !ok {
		return ContextOptions{}, fmt.Errorf("%w: gas limit %s out of range", ErrInvalidRequest, gas)
	}
	opts := ContextOptions{ChainID: chainID, BlockNumber: block, GasLimit: gasLimit}
	if ts != nil {
		v, ok := ts.Uint64()
		if !ok {
			return ContextOptions{}, fmt.Errorf("%w: block timestamp %s out of range", ErrInvalidRequest, ts)
		}
		opts.BlockTimestamp = &v
	}
	return opts, nil
}

// accountOverride converts the override into the engine's shape.
func (o *StateOverride) accountOverride() *engine.AccountOverride {
	acc := &engine.AccountOverride{Nonce: o.Nonce}
	if o.Balance != nil {
		acc.Balance = o.Balance.Int()
	}
	if o.Code != nil {
		acc.Code = []byte(*o.Code)
		if acc.Code == nil {
			acc.Code = []byte{}
		}
	}
	switch {
	case o.State != nil:
		acc.Storage = &engine.StorageOverride{Slots: storageSlots(o.State)}
	case o.StateDiff != nil:
		acc.Storage = &engine.StorageOverride{Slots: storageSlots(o.StateDiff), Diff: true}
	}
	return acc
}

func storageSlots(m map[Quantity]Quantity) map[common.Hash]common.Hash {
	slots := make(map[common.Hash]common.Hash, len(m))
	for k, v := range m {
		slots[k.Hash()] = v.Hash()
	}
	return slots
}

// newResponse maps an engine result to the response shape.
func newResponse(res *engine.CallResult) *SimulationResponse {
	out := &SimulationResponse{
		SimulationID:   1,
		GasUsed:        res.GasUsed,
		BlockNumber:    res.BlockNumber,
		Success:        res.Success,
		Trace:          make([]CallTrace, 0, len(res.Trace)),
		FormattedTrace: res.FormattedTrace,
		Logs:           make([]Log, 0, len(res.Logs)),
		ExitReason:     res.ExitReason,
		ReturnData:     res.ReturnData,
	}
	if out.ReturnData == nil {
		out.ReturnData = []byte{}
	}
	for _, node := range res.Trace {
		trace := CallTrace{CallType: node.Kind, From: node.From, To: node.To}
		if node.Value != nil {
			trace.Value = Quantity(*node.Value)
		}
		out.Trace = append(out.Trace, trace)
	}
	for _, l := range res.Logs {
		topics := l.Topics
		if topics == nil {
			topics = []common.Hash{}
		}
		data := l.Data
		if data == nil {
			data = []byte{}
		}
		out.Logs = append(out.Logs, Log{Address: l.Address, Topics: topics, Data: data})
	}
	return out
}
