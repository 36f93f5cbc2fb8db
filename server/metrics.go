package server

import "github.com/ethereum/go-ethereum/metrics"

var (
	requestTimer      = metrics.NewRegisteredTimer("server/requests", nil)
	clientErrorMeter  = metrics.NewRegisteredMeter("server/errors/client", nil)
	serverErrorMeter  = metrics.NewRegisteredMeter("server/errors/server", nil)
	unauthorizedMeter = metrics.NewRegisteredMeter("server/unauthorized", nil)
	rateLimitedMeter  = metrics.NewRegisteredMeter("server/ratelimited", nil)
	panicMeter        = metrics.NewRegisteredMeter("server/panics", nil)
)
