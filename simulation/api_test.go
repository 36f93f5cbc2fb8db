package simulation

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, cfg Config, factory *fakeFactory) *API {
	t.Helper()
	r := NewRegistry(factory)
	t.Cleanup(r.Close)
	return NewAPI(cfg, factory, r)
}

func TestSimulateFormatTrace(t *testing.T) {
	factory := &fakeFactory{chainID: testChain}
	api := newTestAPI(t, Config{}, factory)

	tx := newTx(nil)
	res, err := api.Simulate(context.Background(), tx)
	require.NoError(t, err)
	assert.Nil(t, res.FormattedTrace)

	tx.FormatTrace = true
	res, err = api.Simulate(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, res.FormattedTrace)
	assert.NotEmpty(t, *res.FormattedTrace)

	for _, evm := range factory.engines {
		assert.True(t, evm.closed.Load(), "one-shot contexts are discarded")
		assert.Equal(t, 0, evm.commits)
	}
}

func TestSimulateContextOptions(t *testing.T) {
	factory := &fakeFactory{chainID: testChain}
	api := newTestAPI(t, Config{EtherscanKey: "key"}, factory)

	tx := newTx(uint64p(150))
	tx.BlockTimestamp = NewQuantity(1_800_000_000)
	tx.GasLimit = *NewQuantity(50_000)
	res, err := api.Simulate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res.BlockNumber)

	opts := factory.opts[0]
	assert.Equal(t, "https://eth.drpc.org", opts.ForkURL)
	assert.Equal(t, uint64(150), *opts.BlockNumber)
	assert.Equal(t, uint64(50_000), opts.GasLimit)
	assert.Equal(t, "key", opts.EtherscanKey)
	assert.Equal(t, []uint64{1_800_000_000}, factory.last().times)
}

func TestForkURLResolution(t *testing.T) {
	factory := &fakeFactory{chainID: 31337}
	tx := newTx(nil)
	tx.ChainID = 31337

	_, err := newTestAPI(t, Config{}, factory).Simulate(context.Background(), tx)
	assert.ErrorIs(t, err, ErrNoURLForChainID)
	assert.Equal(t, http.StatusBadRequest, ErrorCode(err))
	assert.Empty(t, factory.engines)

	_, err = newTestAPI(t, Config{ForkURL: "http://localhost:8545"}, factory).Simulate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", factory.opts[0].ForkURL)
}

func TestSimulateIncorrectChainID(t *testing.T) {
	factory := &fakeFactory{chainID: 137}
	_, err := newTestAPI(t, Config{}, factory).Simulate(context.Background(), newTx(nil))
	assert.ErrorIs(t, err, ErrIncorrectChainID)
	assert.True(t, factory.last().closed.Load())
}

func TestSimulateForkFailure(t *testing.T) {
	factory := &fakeFactory{chainID: testChain, err: errors.New("connection refused")}
	_, err := newTestAPI(t, Config{}, factory).Simulate(context.Background(), newTx(nil))
	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestSimulateBundle(t *testing.T) {
	factory := &fakeFactory{chainID: testChain}
	api := newTestAPI(t, Config{}, factory)

	_, err := api.SimulateBundle(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Empty(t, factory.engines)

	results, err := api.SimulateBundle(context.Background(), []*SimulationRequest{newTx(uint64p(100)), newTx(uint64p(101))})
	require.NoError(t, err)
	require.Len(t, results, 2)
	evm := factory.last()
	assert.Equal(t, 2, evm.commits)
	assert.True(t, evm.closed.Load())
}

func TestStatefulSession(t *testing.T) {
	factory := &fakeFactory{chainID: testChain}
	api := newTestAPI(t, Config{}, factory)
	ctx := context.Background()

	begin, err := api.StatefulBegin(ctx, &StatefulSimulationRequest{
		ChainID:     testChain,
		GasLimit:    *NewQuantity(1_000_000),
		BlockNumber: uint64p(100),
	})
	require.NoError(t, err)
	id := begin.StatefulSimulationID
	evm := factory.last()

	results, err := api.StatefulContinue(ctx, id, []*SimulationRequest{newTx(uint64p(100)), newTx(uint64p(105))})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(105), results[1].BlockNumber)
	assert.Equal(t, evm.times[0]+BlockTime, evm.times[1])

	// State carries over: the next batch may not go back to block 100.
	_, err = api.StatefulContinue(ctx, id, []*SimulationRequest{newTx(uint64p(100))})
	assert.ErrorIs(t, err, ErrInvalidBlockNumbers)

	_, err = api.StatefulContinue(ctx, id, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	end, err := api.StatefulEnd(ctx, id)
	require.NoError(t, err)
	assert.True(t, end.Success)

	_, err = api.StatefulContinue(ctx, id, []*SimulationRequest{newTx(nil)})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, ErrorCode(err))

	_, err = api.StatefulEnd(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = api.StatefulEnd(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStatefulBeginChainMismatch(t *testing.T) {
	factory := &fakeFactory{chainID: 10}
	api := newTestAPI(t, Config{}, factory)

	_, err := api.StatefulBegin(context.Background(), &StatefulSimulationRequest{ChainID: testChain, GasLimit: *NewQuantity(1)})
	assert.ErrorIs(t, err, ErrIncorrectChainID)
	assert.Equal(t, 0, api.registry.Len())
}

func TestStatefulContinueOutlivesClient(t *testing.T) {
	factory := &fakeFactory{chainID: testChain}
	api := newTestAPI(t, Config{}, factory)

	begin, err := api.StatefulBegin(context.Background(), &StatefulSimulationRequest{
		ChainID:  testChain,
		GasLimit: *NewQuantity(1_000_000),
	})
	require.NoError(t, err)
	evm := factory.last()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evm.onCall = cancel
	results, err := api.StatefulContinue(ctx, begin.StatefulSimulationID, []*SimulationRequest{newTx(nil), newTx(nil)})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, evm.commits, "the session holds every transaction of the batch")

	// The session is released and usable afterwards.
	_, err = api.StatefulContinue(context.Background(), begin.StatefulSimulationID, []*SimulationRequest{newTx(nil)})
	require.NoError(t, err)
	assert.Equal(t, 3, evm.commits)
}
