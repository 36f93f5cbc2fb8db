package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// callTracer builds the call tree of a single execution and remembers the
// last opcode of the outermost frame.
type callTracer struct {
	nodes []*CallTraceNode
	stack []int // indices of the open frames

	lastTopOp vm.OpCode

	// onStart runs when the outermost frame is entered, after the state
	// has been prepared for the transaction.
	onStart func()
}

func newCallTracer(onStart func()) *callTracer {
	return &callTracer{onStart: onStart}
}

func (t *callTracer) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart: func(*tracing.VMContext, *types.Transaction, common.Address) {},
		OnTxEnd:   func(*types.Receipt, error) {},
		OnEnter:   t.onEnter,
		OnExit:    t.onExit,
		OnOpcode:  t.onOpcode,
	}
}

func (t *callTracer) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	if depth == 0 && t.onStart != nil {
		t.onStart()
	}
	node := &CallTraceNode{
		Idx:    len(t.nodes),
		Parent: -1,
		Depth:  depth,
		Kind:   vm.OpCode(typ).String(),
		From:   from,
		To:     to,
		Input:  common.CopyBytes(input),
		Gas:    gas,
	}
	if value != nil {
		node.Value, _ = uint256.FromBig(value)
	}
	if n := len(t.stack); n > 0 {
		parent := t.nodes[t.stack[n-1]]
		node.Parent = parent.Idx
		parent.Children = append(parent.Children, node.Idx)
	}
	t.nodes = append(t.nodes, node)
	t.stack = append(t.stack, node.Idx)
}

func (t *callTracer) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	n := len(t.stack)
	if n == 0 {
		return
	}
	node := t.nodes[t.stack[n-1]]
	t.stack = t.stack[:n-1]

	node.Output = common.CopyBytes(output)
	node.GasUsed = gasUsed
	node.Reverted = reverted
	if err != nil {
		node.Error = err.Error()
	}
}

func (t *callTracer) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	if depth == 1 {
		t.lastTopOp = vm.OpCode(op)
	}
}

// trace returns the recorded frames, the root first.
func (t *callTracer) trace() []*CallTraceNode {
	return t.nodes
}
