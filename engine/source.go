package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

var errBlockNotFound = errors.New("block not found")

// Source provides read access to the state of the forked chain at the fork
// block. Implementations must be safe for concurrent use.
type Source interface {
	// Account returns the basic account data, an empty account if it does
	// not exist.
	Account(ctx context.Context, addr common.Address) (*Account, error)

	// Storage returns one storage slot of an account.
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)

	// AccessList asks the fork which accounts and slots the call touches.
	AccessList(ctx context.Context, call *CallRequest, gas uint64) (types.AccessList, error)

	// BlockHash returns the canonical hash of an ancestor of the fork block.
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// forkHeader holds the header fields of the fork block the execution
// environment is seeded from.
type forkHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	Time       hexutil.Uint64 `json:"timestamp"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	Coinbase   common.Address `json:"miner"`
	Difficulty *hexutil.Big   `json:"difficulty"`
	MixDigest  common.Hash    `json:"mixHash"`
	BaseFee    *hexutil.Big   `json:"baseFeePerGas"`
}

// RPCSource reads fork state over JSON-RPC, always at the fork block.
type RPCSource struct {
	client  *rpc.Client
	block   string
	timeout time.Duration
}

// NewRPCSource creates a source reading state at the given block.
func NewRPCSource(client *rpc.Client, block uint64, timeout time.Duration) *RPCSource {
	return &RPCSource{
		client:  client,
		block:   hexutil.EncodeUint64(block),
		timeout: timeout,
	}
}

func (s *RPCSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Account implements Source, fetching balance, nonce and code in one batch.
func (s *RPCSource) Account(ctx context.Context, addr common.Address) (*Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		balance hexutil.Big
		nonce   hexutil.Uint64
		code    hexutil.Bytes
	)
	batch := []rpc.BatchElem{
		{Method: "eth_getBalance", Args: []interface{}{addr, s.block}, Result: &balance},
		{Method: "eth_getTransactionCount", Args: []interface{}{addr, s.block}, Result: &nonce},
		{Method: "eth_getCode", Args: []interface{}{addr, s.block}, Result: &code},
	}
	if err := s.client.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}
	for _, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("%s %s: %w", elem.Method, addr, elem.Error)
		}
	}
	bal, overflow := uint256.FromBig((*big.Int)(&balance))
	if overflow {
		return nil, fmt.Errorf("balance of %s overflows 256 bits", addr)
	}
	return &Account{Nonce: uint64(nonce), Balance: bal, Code: code}, nil
}

// Storage implements Source.
func (s *RPCSource) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value hexutil.Bytes
	if err := s.client.CallContext(ctx, &value, "eth_getStorageAt", addr, slot, s.block); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

type accessListArgs struct {
	From       common.Address   `json:"from"`
	To         common.Address   `json:"to"`
	Gas        hexutil.Uint64   `json:"gas"`
	Value      *hexutil.Big     `json:"value,omitempty"`
	Data       hexutil.Bytes    `json:"data,omitempty"`
	Input      hexutil.Bytes    `json:"input,omitempty"`
	AccessList types.AccessList `json:"accessList,omitempty"`
}

type accessListResult struct {
	AccessList types.AccessList `json:"accessList"`
	Error      string           `json:"error,omitempty"`
	GasUsed    hexutil.Uint64   `json:"gasUsed"`
}

// AccessList implements Source through eth_createAccessList. The list is
// returned even when the call reverts on the fork.
func (s *RPCSource) AccessList(ctx context.Context, call *CallRequest, gas uint64) (types.AccessList, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := accessListArgs{
		From:       call.From,
		To:         call.To,
		Gas:        hexutil.Uint64(gas),
		Data:       call.Data,
		Input:      call.Data,
		AccessList: call.AccessList,
	}
	if call.Value != nil && !call.Value.IsZero() {
		args.Value = (*hexutil.Big)(call.Value.ToBig())
	}
	var result accessListResult
	if err := s.client.CallContext(ctx, &result, "eth_createAccessList", args, s.block); err != nil {
		return nil, err
	}
	return result.AccessList, nil
}

// BlockHash implements Source.
func (s *RPCSource) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var head *forkHeader
	if err := s.client.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return common.Hash{}, err
	}
	if head == nil {
		return common.Hash{}, fmt.Errorf("%w: %d", errBlockNotFound, number)
	}
	return head.Hash, nil
}

// fetchHeader loads the fork block header, the latest one when number is nil.
func fetchHeader(ctx context.Context, client *rpc.Client, number *uint64) (*forkHeader, error) {
	tag := "latest"
	if number != nil {
		tag = hexutil.EncodeUint64(*number)
	}
	var head *forkHeader
	if err := client.CallContext(ctx, &head, "eth_getBlockByNumber", tag, false); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("%w: %s", errBlockNotFound, tag)
	}
	return head, nil
}
