package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/log"
	"github.com/forksim/forksim/common/gopool"
)

type slotKey struct {
	addr common.Address
	slot common.Hash
}

// prefetcher warms the fork reader with what a call is expected to touch,
// fetching in parallel what execution would otherwise read one at a time.
// It is an optimisation only: anything it misses is read on demand.
type prefetcher struct {
	source  Source
	reader  *forkReader
	state   *state.StateDB
	workers int
	log     log.Logger

	owned mapset.Set[common.Address] // accounts whose storage was fully replaced
}

func newPrefetcher(source Source, reader *forkReader, statedb *state.StateDB, workers int, logger log.Logger) *prefetcher {
	return &prefetcher{
		source:  source,
		reader:  reader,
		state:   statedb,
		workers: workers,
		log:     logger,
		owned:   mapset.NewThreadUnsafeSet[common.Address](),
	}
}

// prepare warms sender, recipient, the caller's access list and whatever the
// fork reports for the call.
func (p *prefetcher) prepare(ctx context.Context, call *CallRequest, gas uint64) error {
	if err := p.loadAccounts(ctx, []common.Address{call.From, call.To}); err != nil {
		return err
	}
	var (
		addrs []common.Address
		slots = make(map[common.Address][]common.Hash)
	)
	for _, tuple := range call.AccessList {
		addrs = append(addrs, tuple.Address)
		slots[tuple.Address] = append(slots[tuple.Address], tuple.StorageKeys...)
	}
	// Plain transfers touch nothing beyond the two accounts.
	if len(p.state.GetCode(call.To)) > 0 {
		start := time.Now()
		list, err := p.source.AccessList(ctx, call, gas)
		discoveryTimer.UpdateSince(start)
		if err != nil {
			p.log.Debug("Access list discovery failed", "to", call.To, "err", err)
		}
		for _, tuple := range list {
			addrs = append(addrs, tuple.Address)
			slots[tuple.Address] = append(slots[tuple.Address], tuple.StorageKeys...)
		}
	}
	if err := p.loadAccounts(ctx, addrs); err != nil {
		return err
	}
	return p.loadSlots(ctx, slots)
}

// loadAccounts fetches the accounts the reader does not know yet.
func (p *prefetcher) loadAccounts(ctx context.Context, addrs []common.Address) error {
	wanted := mapset.NewThreadUnsafeSet[common.Address]()
	for _, addr := range addrs {
		if !p.reader.hasAccount(addr) {
			wanted.Add(addr)
		}
	}
	if wanted.Cardinality() == 0 {
		return nil
	}
	missing := wanted.ToSlice()
	fetched := make([]*Account, len(missing))
	err := gopool.Run(len(missing), p.workers, func(i int) error {
		start := time.Now()
		acc, err := p.source.Account(ctx, missing[i])
		accountFetchTimer.UpdateSince(start)
		if err != nil {
			return fmt.Errorf("load account %s: %w", missing[i], err)
		}
		fetched[i] = acc
		return nil
	})
	if err != nil {
		return err
	}
	for i, addr := range missing {
		p.reader.accounts[addr] = fetched[i]
	}
	p.log.Trace("Prefetched fork accounts", "count", len(missing))
	return nil
}

// loadSlots fetches the storage slots the reader does not know yet.
func (p *prefetcher) loadSlots(ctx context.Context, slots map[common.Address][]common.Hash) error {
	wanted := mapset.NewThreadUnsafeSet[slotKey]()
	for addr, keys := range slots {
		if p.owned.Contains(addr) {
			continue
		}
		for _, slot := range keys {
			if key := (slotKey{addr, slot}); !p.reader.hasSlot(key) {
				wanted.Add(key)
			}
		}
	}
	if wanted.Cardinality() == 0 {
		return nil
	}
	var (
		mu      sync.Mutex
		missing = wanted.ToSlice()
		fetched = make(map[slotKey]common.Hash, len(missing))
	)
	err := gopool.Run(len(missing), p.workers, func(i int) error {
		start := time.Now()
		value, err := p.source.Storage(ctx, missing[i].addr, missing[i].slot)
		storageFetchTimer.UpdateSince(start)
		if err != nil {
			return fmt.Errorf("load slot %s/%s: %w", missing[i].addr, missing[i].slot, err)
		}
		mu.Lock()
		fetched[missing[i]] = value
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	for key, value := range fetched {
		p.reader.slots[key] = value
	}
	p.log.Trace("Prefetched fork storage", "count", len(missing))
	return nil
}

// own records that the account's storage was replaced wholesale; its fork
// slots are no longer worth fetching.
func (p *prefetcher) own(addr common.Address) {
	p.owned.Add(addr)
}
