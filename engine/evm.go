package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrClosed is returned when a closed context is used.
var ErrClosed = errors.New("execution context closed")

// Config contains the tunables of the execution engine.
type Config struct {
	CacheSize       int           // MB of fork state shared by every context
	PrefetchWorkers int           // parallel fork reads per context
	TraceColor      bool          // ANSI colours in formatted traces
	RequestTimeout  time.Duration // deadline of a single fork read
}

// DefaultConfig contains the default engine settings.
var DefaultConfig = Config{
	CacheSize:       256,
	PrefetchWorkers: 16,
	TraceColor:      false,
	RequestTimeout:  30 * time.Second,
}

func (c *Config) sanitize() {
	if c.CacheSize <= 0 {
		log.Warn("Sanitizing invalid engine cache size", "provided", c.CacheSize, "updated", DefaultConfig.CacheSize)
		c.CacheSize = DefaultConfig.CacheSize
	}
	if c.PrefetchWorkers <= 0 {
		log.Warn("Sanitizing invalid prefetch workers", "provided", c.PrefetchWorkers, "updated", DefaultConfig.PrefetchWorkers)
		c.PrefetchWorkers = DefaultConfig.PrefetchWorkers
	}
}

// Options select the fork a new context is created from.
type Options struct {
	ForkURL      string
	BlockNumber  *uint64 // latest block when nil
	GasLimit     uint64
	EtherscanKey string // contract names in formatted traces when set
}

// Factory creates execution contexts. All contexts of a factory share one
// fork state cache.
type Factory struct {
	cfg         Config
	cache       *fastcache.Cache
	identify    func(apiKey string) Identifier
	identifiers *xsync.MapOf[string, Identifier]
}

// NewFactory creates a factory. identify may be nil, in which case formatted
// traces show raw addresses.
func NewFactory(cfg Config, identify func(apiKey string) Identifier) *Factory {
	cfg.sanitize()
	return &Factory{
		cfg:         cfg,
		cache:       fastcache.New(cfg.CacheSize * 1024 * 1024),
		identify:    identify,
		identifiers: xsync.NewMapOf[string, Identifier](),
	}
}

// New dials the fork endpoint and creates a context at the requested block.
func (f *Factory) New(ctx context.Context, opts Options) (*Evm, error) {
	client, err := rpc.DialContext(ctx, opts.ForkURL)
	if err != nil {
		return nil, fmt.Errorf("dial fork %s: %w", opts.ForkURL, err)
	}
	chainID, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fork chain id: %w", err)
	}
	head, err := fetchHeader(ctx, client, opts.BlockNumber)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fork header: %w", err)
	}
	number := uint64(head.Number)
	source := NewCachedSource(NewRPCSource(client, number, f.cfg.RequestTimeout), f.cache, opts.ForkURL, number)

	evm, err := newEvm(source, chainID.Uint64(), head, opts.GasLimit, f.cfg, f.identifier(opts.EtherscanKey))
	if err != nil {
		client.Close()
		return nil, err
	}
	evm.closer = client.Close
	return evm, nil
}

func (f *Factory) identifier(apiKey string) Identifier {
	if apiKey == "" || f.identify == nil {
		return nil
	}
	if ident, ok := f.identifiers.Load(apiKey); ok {
		return ident
	}
	ident, _ := f.identifiers.LoadOrStore(apiKey, f.identify(apiKey))
	return ident
}

// Evm is a single forked execution context. It is not safe for concurrent
// use; callers serialize access.
type Evm struct {
	cfg      Config
	source   Source
	reader   *forkReader
	state    *state.StateDB
	prefetch *prefetcher
	chain    *params.ChainConfig
	chainID  uint64
	fork     *forkHeader
	ident    Identifier

	block    uint64
	time     uint64
	gasLimit uint64
	txIndex  int

	closer func()
	closed bool
	log    log.Logger
}

func newEvm(source Source, chainID uint64, head *forkHeader, gasLimit uint64, cfg Config, ident Identifier) (*Evm, error) {
	reader := newForkReader(source)
	db := &forkDatabase{
		Database: state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil),
		reader:   reader,
	}
	statedb, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, err
	}
	logger := log.New("chain", chainID, "fork", uint64(head.Number))
	e := &Evm{
		cfg:      cfg,
		source:   source,
		reader:   reader,
		state:    statedb,
		prefetch: newPrefetcher(source, reader, statedb, cfg.PrefetchWorkers, logger),
		chain:    chainConfig(chainID),
		chainID:  chainID,
		fork:     head,
		ident:    ident,
		block:    uint64(head.Number),
		time:     uint64(head.Time),
		gasLimit: gasLimit,
		log:      logger,
	}
	contextGauge.Inc(1)
	logger.Debug("Created execution context", "time", e.time)
	return e, nil
}

// ChainID returns the id of the forked chain.
func (e *Evm) ChainID() uint64 { return e.chainID }

// Block returns the number of the block calls execute in.
func (e *Evm) Block() uint64 { return e.block }

// SetBlock moves execution to another block number. Fork reads keep
// targeting the fork block.
func (e *Evm) SetBlock(number uint64) { e.block = number }

// BlockTimestamp returns the timestamp of the block calls execute in.
func (e *Evm) BlockTimestamp() uint64 { return e.time }

// SetBlockTimestamp changes the execution timestamp.
func (e *Evm) SetBlockTimestamp(ts uint64) { e.time = ts }

// Close releases the fork connection. Closing twice is a no-op.
func (e *Evm) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.closer != nil {
		e.closer()
	}
	contextGauge.Dec(1)
	e.log.Debug("Closed execution context", "block", e.block, "txs", e.txIndex)
}
