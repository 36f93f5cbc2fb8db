package simulation

import (
	"context"

	"github.com/google/uuid"
)

// Config contains the settings shared by every simulation.
type Config struct {
	ForkURL      string // endpoint for every chain; the built-in table is used when empty
	EtherscanKey string // enables contract names in formatted traces
}

// API implements the simulation endpoints on top of the registry and the
// batch runner.
type API struct {
	cfg      Config
	factory  EngineFactory
	registry *Registry
	runner   *Runner
}

// NewAPI creates the simulation API.
func NewAPI(cfg Config, factory EngineFactory, registry *Registry) *API {
	return &API{
		cfg:      cfg,
		factory:  factory,
		registry: registry,
		runner:   NewRunner(),
	}
}

func (api *API) resolve(opts ContextOptions) (ContextOptions, error) {
	opts.EtherscanKey = api.cfg.EtherscanKey
	if api.cfg.ForkURL != "" {
		opts.ForkURL = api.cfg.ForkURL
		return opts, nil
	}
	url, err := DefaultForkURL(opts.ChainID)
	if err != nil {
		return opts, err
	}
	opts.ForkURL = url
	return opts, nil
}

// Simulate runs one transaction in a fresh context and discards its effects.
func (api *API) Simulate(ctx context.Context, tx *SimulationRequest) (*SimulationResponse, error) {
	evm, err := api.open(ctx, tx)
	if err != nil {
		return nil, err
	}
	defer evm.Close()

	results, err := api.runner.Run(ctx, evm, []*SimulationRequest{tx}, false)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// SimulateBundle runs transactions in order in a fresh context, each one
// seeing the effects of the previous ones. The context is created at the
// first transaction's block.
func (api *API) SimulateBundle(ctx context.Context, txs []*SimulationRequest) ([]*SimulationResponse, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	evm, err := api.open(ctx, txs[0])
	if err != nil {
		return nil, err
	}
	defer evm.Close()

	return api.runner.Run(ctx, evm, txs, true)
}

func (api *API) open(ctx context.Context, tx *SimulationRequest) (Engine, error) {
	opts, err := tx.contextOptions()
	if err != nil {
		return nil, err
	}
	if opts, err = api.resolve(opts); err != nil {
		return nil, err
	}
	return openContext(ctx, api.factory, opts)
}

// StatefulBegin opens a session.
func (api *API) StatefulBegin(ctx context.Context, req *StatefulSimulationRequest) (*StatefulSimulationResponse, error) {
	opts, err := req.contextOptions()
	if err != nil {
		return nil, err
	}
	if opts, err = api.resolve(opts); err != nil {
		return nil, err
	}
	id, err := api.registry.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &StatefulSimulationResponse{StatefulSimulationID: id}, nil
}

// StatefulContinue runs transactions against a session, keeping their
// effects for later calls.
func (api *API) StatefulContinue(ctx context.Context, id uuid.UUID, txs []*SimulationRequest) ([]*SimulationResponse, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	handle, err := api.registry.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	return api.runner.Run(ctx, handle.Engine(), txs, true)
}

// StatefulEnd destroys a session.
func (api *API) StatefulEnd(ctx context.Context, id uuid.UUID) (*StatefulSimulationEndResponse, error) {
	if !api.registry.Destroy(id) {
		return nil, ErrSessionNotFound
	}
	return &StatefulSimulationEndResponse{Success: true}, nil
}
