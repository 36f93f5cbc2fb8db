package engine

import "github.com/ethereum/go-ethereum/metrics"

var (
	cacheHitMeter  = metrics.NewRegisteredMeter("engine/cache/hit", nil)
	cacheMissMeter = metrics.NewRegisteredMeter("engine/cache/miss", nil)

	accountFetchTimer = metrics.NewRegisteredTimer("engine/fetch/account", nil)
	storageFetchTimer = metrics.NewRegisteredTimer("engine/fetch/storage", nil)
	discoveryTimer    = metrics.NewRegisteredTimer("engine/fetch/accesslist", nil)

	callTimer       = metrics.NewRegisteredTimer("engine/call", nil)
	callRevertMeter = metrics.NewRegisteredMeter("engine/call/revert", nil)
	contextGauge    = metrics.NewRegisteredGauge("engine/contexts", nil)
)
