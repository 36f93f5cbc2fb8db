package simulation

import "github.com/ethereum/go-ethereum/metrics"

var (
	sessionGauge        = metrics.NewRegisteredGauge("simulation/sessions", nil)
	sessionCreateMeter  = metrics.NewRegisteredMeter("simulation/sessions/create", nil)
	sessionDestroyMeter = metrics.NewRegisteredMeter("simulation/sessions/destroy", nil)
	sessionWaitTimer    = metrics.NewRegisteredTimer("simulation/sessions/wait", nil)

	batchTimer    = metrics.NewRegisteredTimer("simulation/batch", nil)
	txMeter       = metrics.NewRegisteredMeter("simulation/txs", nil)
	txFailMeter   = metrics.NewRegisteredMeter("simulation/txs/failed", nil)
	overrideMeter = metrics.NewRegisteredMeter("simulation/overrides", nil)
)
