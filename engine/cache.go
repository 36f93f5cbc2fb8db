package engine

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	accountPrefix byte = 'a'
	storagePrefix byte = 's'
	hashPrefix    byte = 'h'
)

type cachedAccount struct {
	Nonce   uint64
	Balance *big.Int
	Code    []byte
}

// CachedSource memoizes fork reads in a cache shared by every context forked
// from the same endpoint and block. Fork state at a fixed block never changes,
// so entries are never invalidated.
type CachedSource struct {
	Source
	cache     *fastcache.Cache
	namespace common.Hash
}

// NewCachedSource wraps source. The namespace separates entries of different
// endpoints and fork blocks inside the shared cache.
func NewCachedSource(source Source, cache *fastcache.Cache, forkURL string, block uint64) *CachedSource {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], block)
	return &CachedSource{
		Source:    source,
		cache:     cache,
		namespace: crypto.Keccak256Hash([]byte(forkURL), num[:]),
	}
}

func (s *CachedSource) key(prefix byte, parts ...[]byte) []byte {
	key := make([]byte, 0, 1+common.HashLength+common.AddressLength+common.HashLength)
	key = append(key, prefix)
	key = append(key, s.namespace[:]...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// Account implements Source.
func (s *CachedSource) Account(ctx context.Context, addr common.Address) (*Account, error) {
	key := s.key(accountPrefix, addr[:])
	if blob, ok := s.cache.HasGet(nil, key); ok {
		var acc cachedAccount
		if err := rlp.DecodeBytes(blob, &acc); err == nil {
			cacheHitMeter.Mark(1)
			balance, _ := uint256.FromBig(acc.Balance)
			return &Account{Nonce: acc.Nonce, Balance: balance, Code: acc.Code}, nil
		}
	}
	cacheMissMeter.Mark(1)

	acc, err := s.Source.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	blob, err := rlp.EncodeToBytes(&cachedAccount{Nonce: acc.Nonce, Balance: acc.Balance.ToBig(), Code: acc.Code})
	if err == nil {
		s.cache.Set(key, blob)
	}
	return acc, nil
}

// Storage implements Source.
func (s *CachedSource) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	key := s.key(storagePrefix, addr[:], slot[:])
	if blob, ok := s.cache.HasGet(nil, key); ok && len(blob) == common.HashLength {
		cacheHitMeter.Mark(1)
		return common.BytesToHash(blob), nil
	}
	cacheMissMeter.Mark(1)

	value, err := s.Source.Storage(ctx, addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	s.cache.Set(key, value[:])
	return value, nil
}

// BlockHash implements Source.
func (s *CachedSource) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], number)
	key := s.key(hashPrefix, num[:])
	if blob, ok := s.cache.HasGet(nil, key); ok && len(blob) == common.HashLength {
		return common.BytesToHash(blob), nil
	}
	hash, err := s.Source.BlockHash(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	s.cache.Set(key, hash[:])
	return hash, nil
}

// AccessList is not cached: its answer depends on the call.
func (s *CachedSource) AccessList(ctx context.Context, call *CallRequest, gas uint64) (types.AccessList, error) {
	return s.Source.AccessList(ctx, call, gas)
}
