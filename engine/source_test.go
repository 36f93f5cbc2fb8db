package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory fork used by the engine tests.
type memSource struct {
	mu       sync.Mutex
	accounts map[common.Address]*Account
	storage  map[common.Address]map[common.Hash]common.Hash
	discover bool             // report every known account and slot as touched
	reported types.AccessList // reported instead when set
	failures error            // returned by every storage read when set

	accountReads int
	storageReads int
}

func newMemSource() *memSource {
	return &memSource{
		accounts: make(map[common.Address]*Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		discover: true,
	}
}

func (s *memSource) setCode(addr common.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(addr)
	acc.Code = code
}

func (s *memSource) setSlot(addr common.Address, slot, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr)
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = value
}

func (s *memSource) account(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{Balance: new(uint256.Int)}
		s.accounts[addr] = acc
	}
	return acc
}

func (s *memSource) Account(_ context.Context, addr common.Address) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountReads++
	if acc, ok := s.accounts[addr]; ok {
		cpy := *acc
		cpy.Balance = new(uint256.Int).Set(acc.Balance)
		return &cpy, nil
	}
	return &Account{Balance: new(uint256.Int)}, nil
}

func (s *memSource) Storage(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storageReads++
	if s.failures != nil {
		return common.Hash{}, s.failures
	}
	return s.storage[addr][slot], nil
}

func (s *memSource) AccessList(_ context.Context, call *CallRequest, gas uint64) (types.AccessList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported != nil {
		return s.reported, nil
	}
	if !s.discover {
		return nil, nil
	}
	var list types.AccessList
	for addr := range s.accounts {
		tuple := types.AccessTuple{Address: addr}
		for slot := range s.storage[addr] {
			tuple.StorageKeys = append(tuple.StorageKeys, slot)
		}
		list = append(list, tuple)
	}
	return list, nil
}

func (s *memSource) BlockHash(_ context.Context, number uint64) (common.Hash, error) {
	return common.BigToHash(new(uint256.Int).SetUint64(number).ToBig()), nil
}

// fakeEth serves the fork RPC methods over an in-process server.
type fakeEth struct {
	src  *memSource
	head *forkHeader

	mu     sync.Mutex
	blocks []string // block tags state was requested at
}

func (f *fakeEth) seen(block string) {
	f.mu.Lock()
	f.blocks = append(f.blocks, block)
	f.mu.Unlock()
}

func (f *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1337))
}

func (f *fakeEth) GetBalance(addr common.Address, block string) (*hexutil.Big, error) {
	f.seen(block)
	acc, _ := f.src.Account(context.Background(), addr)
	return (*hexutil.Big)(acc.Balance.ToBig()), nil
}

func (f *fakeEth) GetTransactionCount(addr common.Address, block string) (hexutil.Uint64, error) {
	f.seen(block)
	acc, _ := f.src.Account(context.Background(), addr)
	return hexutil.Uint64(acc.Nonce), nil
}

func (f *fakeEth) GetCode(addr common.Address, block string) (hexutil.Bytes, error) {
	f.seen(block)
	acc, _ := f.src.Account(context.Background(), addr)
	return acc.Code, nil
}

func (f *fakeEth) GetStorageAt(addr common.Address, slot common.Hash, block string) (hexutil.Bytes, error) {
	f.seen(block)
	value, _ := f.src.Storage(context.Background(), addr, slot)
	return value[:], nil
}

func (f *fakeEth) CreateAccessList(args accessListArgs, block string) (*accessListResult, error) {
	f.seen(block)
	list, _ := f.src.AccessList(context.Background(), &CallRequest{From: args.From, To: args.To, Data: args.Data}, uint64(args.Gas))
	return &accessListResult{AccessList: list, GasUsed: 21000}, nil
}

func (f *fakeEth) GetBlockByNumber(tag string, full bool) (*forkHeader, error) {
	if tag == "latest" || tag == hexutil.EncodeUint64(uint64(f.head.Number)) {
		return f.head, nil
	}
	number, err := hexutil.DecodeUint64(tag)
	if err != nil || number > uint64(f.head.Number) {
		return nil, nil
	}
	return &forkHeader{Number: hexutil.Uint64(number), Hash: common.BigToHash(new(big.Int).SetUint64(number))}, nil
}

func newFakeFork(t *testing.T, src *memSource) (*rpc.Client, *fakeEth) {
	t.Helper()
	eth := &fakeEth{src: src, head: testHeader()}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client, eth
}

func testHeader() *forkHeader {
	return &forkHeader{
		Number:     100,
		Hash:       common.HexToHash("0xf0"),
		Time:       1_700_000_000,
		GasLimit:   30_000_000,
		Coinbase:   common.HexToAddress("0xc0"),
		Difficulty: (*hexutil.Big)(new(big.Int)),
		BaseFee:    (*hexutil.Big)(big.NewInt(7)),
	}
}

func TestRPCSourceReadsAtForkBlock(t *testing.T) {
	src := newMemSource()
	addr := common.HexToAddress("0xaa")
	src.setCode(addr, []byte{0x60, 0x00})
	src.accounts[addr].Nonce = 5
	src.accounts[addr].Balance = uint256.NewInt(1000)
	src.setSlot(addr, common.HexToHash("0x01"), common.HexToHash("0x02"))

	client, eth := newFakeFork(t, src)
	source := NewRPCSource(client, 100, time.Second)

	acc, err := source.Account(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), acc.Nonce)
	assert.Equal(t, uint64(1000), acc.Balance.Uint64())
	assert.Equal(t, []byte{0x60, 0x00}, acc.Code)

	value, err := source.Storage(context.Background(), addr, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02"), value)

	list, err := source.AccessList(context.Background(), &CallRequest{To: addr}, 100_000)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, addr, list[0].Address)

	for _, block := range eth.blocks {
		assert.Equal(t, "0x64", block)
	}
}

func TestFetchHeader(t *testing.T) {
	client, _ := newFakeFork(t, newMemSource())

	head, err := fetchHeader(context.Background(), client, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), uint64(head.Number))

	old := uint64(90)
	head, err = fetchHeader(context.Background(), client, &old)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), uint64(head.Number))

	future := uint64(200)
	_, err = fetchHeader(context.Background(), client, &future)
	assert.ErrorIs(t, err, errBlockNotFound)
}
