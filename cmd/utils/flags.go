// Copyright 2015 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// Package utils contains internal helper functions for forksim commands.
package utils

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"github.com/forksim/forksim/engine"
	"github.com/forksim/forksim/internal/flags"
	"github.com/forksim/forksim/internal/telemetry"
	"github.com/forksim/forksim/server"
	"github.com/forksim/forksim/simulation"
	"github.com/urfave/cli/v2"
)

// Server settings
var (
	HostFlag = &cli.StringFlag{
		Name:     "host",
		Usage:    "HTTP server listening interface",
		Value:    server.DefaultConfig.Host,
		Category: flags.ServerCategory,
	}
	PortFlag = &cli.IntFlag{
		Name:     "port",
		Usage:    "HTTP server listening port",
		Value:    server.DefaultConfig.Port,
		EnvVars:  []string{"PORT"},
		Category: flags.ServerCategory,
	}
	UDSPathFlag = &cli.StringFlag{
		Name:     "uds.path",
		Usage:    "Filename of a unix domain socket serving the same API",
		EnvVars:  []string{"UDS_PATH"},
		Category: flags.ServerCategory,
	}
	APIKeyFlag = &cli.StringFlag{
		Name:     "api.key",
		Usage:    "Require this value in the X-API-KEY header of every request",
		EnvVars:  []string{"API_KEY"},
		Category: flags.ServerCategory,
	}
	CorsDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Category: flags.ServerCategory,
	}
	RateLimitFlag = &cli.Float64Flag{
		Name:     "ratelimit",
		Usage:    "Requests per second accepted from one client (0 = unlimited)",
		Value:    server.DefaultConfig.RateLimit,
		Category: flags.ServerCategory,
	}
	RateBurstFlag = &cli.IntFlag{
		Name:     "ratelimit.burst",
		Usage:    "Requests a client may issue at once before the rate limit applies",
		Value:    server.DefaultConfig.RateBurst,
		Category: flags.ServerCategory,
	}
	TrustedProxiesFlag = &cli.StringFlag{
		Name:     "http.trustedproxies",
		Usage:    "Comma separated CIDR masks of proxies whose X-Forwarded-For header is believed",
		Category: flags.ServerCategory,
	}
	ReadTimeoutFlag = &cli.DurationFlag{
		Name:     "http.readtimeout",
		Usage:    "Maximum duration for reading a request",
		Value:    server.DefaultConfig.ReadTimeout,
		Category: flags.ServerCategory,
	}
	WriteTimeoutFlag = &cli.DurationFlag{
		Name:     "http.writetimeout",
		Usage:    "Maximum duration for answering a request",
		Value:    server.DefaultConfig.WriteTimeout,
		Category: flags.ServerCategory,
	}
)

// Simulation settings
var (
	ForkURLFlag = &cli.StringFlag{
		Name:     "fork.url",
		Usage:    "JSON-RPC endpoint every chain is forked from (built-in public endpoints when empty)",
		EnvVars:  []string{"FORK_URL"},
		Category: flags.SimulationCategory,
	}
	EtherscanKeyFlag = &cli.StringFlag{
		Name:     "etherscan.key",
		Usage:    "Etherscan API key used to name contracts in formatted traces",
		EnvVars:  []string{"ETHERSCAN_KEY"},
		Category: flags.SimulationCategory,
	}
)

// Engine settings
var (
	CacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to fork state caching",
		Value:    engine.DefaultConfig.CacheSize,
		Category: flags.EngineCategory,
	}
	PrefetchWorkersFlag = &cli.IntFlag{
		Name:     "prefetch.workers",
		Usage:    "Parallel fork reads issued for one simulation",
		Value:    engine.DefaultConfig.PrefetchWorkers,
		Category: flags.EngineCategory,
	}
	TraceColorFlag = &cli.BoolFlag{
		Name:     "trace.color",
		Usage:    "Colour formatted traces with ANSI escape codes",
		Category: flags.EngineCategory,
	}
	ForkTimeoutFlag = &cli.DurationFlag{
		Name:     "fork.timeout",
		Usage:    "Deadline of a single read from the fork endpoint",
		Value:    engine.DefaultConfig.RequestTimeout,
		Category: flags.EngineCategory,
	}
)

// Metrics and telemetry settings
var (
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
	// MetricsHTTPFlag defines the endpoint for a stand-alone metrics HTTP endpoint.
	MetricsHTTPFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    `Enable stand-alone metrics HTTP server listening interface.`,
		Category: flags.MetricsCategory,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name: "metrics.port",
		Usage: `Metrics HTTP server listening port.
Please note that --` + MetricsHTTPFlag.Name + ` must be set to start the server.`,
		Value:    metrics.DefaultConfig.Port,
		Category: flags.MetricsCategory,
	}
	OTLPEndpointFlag = &cli.StringFlag{
		Name:     "otel.endpoint",
		Usage:    "OTLP/HTTP endpoint receiving request traces",
		EnvVars:  []string{"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"},
		Category: flags.MetricsCategory,
	}
	OTLPServiceFlag = &cli.StringFlag{
		Name:     "otel.service",
		Usage:    "Service name reported with traces",
		Value:    telemetry.DefaultConfig.ServiceName,
		Category: flags.MetricsCategory,
	}
	OTLPSampleRatioFlag = &cli.Float64Flag{
		Name:     "otel.ratio",
		Usage:    "Fraction of requests traced",
		Value:    telemetry.DefaultConfig.SampleRatio,
		Category: flags.MetricsCategory,
	}
)

var (
	ServerFlags     = []cli.Flag{HostFlag, PortFlag, UDSPathFlag, APIKeyFlag, CorsDomainFlag, RateLimitFlag, RateBurstFlag, TrustedProxiesFlag, ReadTimeoutFlag, WriteTimeoutFlag}
	SimulationFlags = []cli.Flag{ForkURLFlag, EtherscanKeyFlag}
	EngineFlags     = []cli.Flag{CacheFlag, PrefetchWorkersFlag, TraceColorFlag, ForkTimeoutFlag}
	MetricsFlags    = []cli.Flag{MetricsEnabledFlag, MetricsHTTPFlag, MetricsPortFlag, OTLPEndpointFlag, OTLPServiceFlag, OTLPSampleRatioFlag}
)

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// SetServerConfig applies server-related command line flags to the config.
func SetServerConfig(ctx *cli.Context, cfg *server.Config) {
	if ctx.IsSet(HostFlag.Name) {
		cfg.Host = ctx.String(HostFlag.Name)
	}
	if ctx.IsSet(PortFlag.Name) {
		cfg.Port = ctx.Int(PortFlag.Name)
	}
	if ctx.IsSet(UDSPathFlag.Name) {
		cfg.UDSPath = ctx.String(UDSPathFlag.Name)
	}
	if ctx.IsSet(APIKeyFlag.Name) {
		cfg.APIKey = ctx.String(APIKeyFlag.Name)
	}
	if ctx.IsSet(CorsDomainFlag.Name) {
		cfg.CorsOrigins = SplitAndTrim(ctx.String(CorsDomainFlag.Name))
	}
	if ctx.IsSet(RateLimitFlag.Name) {
		cfg.RateLimit = ctx.Float64(RateLimitFlag.Name)
	}
	if ctx.IsSet(RateBurstFlag.Name) {
		cfg.RateBurst = ctx.Int(RateBurstFlag.Name)
	}
	if proxies := ctx.String(TrustedProxiesFlag.Name); proxies != "" {
		list, err := netutil.ParseNetlist(proxies)
		if err != nil {
			Fatalf("Option %q: %v", TrustedProxiesFlag.Name, err)
		}
		cfg.TrustedProxies = list
	}
	if ctx.IsSet(ReadTimeoutFlag.Name) {
		cfg.ReadTimeout = ctx.Duration(ReadTimeoutFlag.Name)
	}
	if ctx.IsSet(WriteTimeoutFlag.Name) {
		cfg.WriteTimeout = ctx.Duration(WriteTimeoutFlag.Name)
	}
}

// SetSimulationConfig applies simulation-related command line flags to the config.
func SetSimulationConfig(ctx *cli.Context, cfg *simulation.Config) {
	if ctx.IsSet(ForkURLFlag.Name) {
		cfg.ForkURL = ctx.String(ForkURLFlag.Name)
	}
	if ctx.IsSet(EtherscanKeyFlag.Name) {
		cfg.EtherscanKey = ctx.String(EtherscanKeyFlag.Name)
	}
}

// SetEngineConfig applies engine-related command line flags to the config.
func SetEngineConfig(ctx *cli.Context, cfg *engine.Config) {
	if ctx.IsSet(CacheFlag.Name) {
		cfg.CacheSize = ctx.Int(CacheFlag.Name)
	}
	if ctx.IsSet(PrefetchWorkersFlag.Name) {
		cfg.PrefetchWorkers = ctx.Int(PrefetchWorkersFlag.Name)
	}
	if ctx.IsSet(TraceColorFlag.Name) {
		cfg.TraceColor = ctx.Bool(TraceColorFlag.Name)
	}
	if ctx.IsSet(ForkTimeoutFlag.Name) {
		cfg.RequestTimeout = ctx.Duration(ForkTimeoutFlag.Name)
	}
}

// SetMetricsConfig applies metrics-related command line flags to the config.
func SetMetricsConfig(ctx *cli.Context, cfg *metrics.Config) {
	if ctx.IsSet(MetricsEnabledFlag.Name) {
		cfg.Enabled = ctx.Bool(MetricsEnabledFlag.Name)
	}
	if ctx.IsSet(MetricsHTTPFlag.Name) {
		cfg.HTTP = ctx.String(MetricsHTTPFlag.Name)
	}
	if ctx.IsSet(MetricsPortFlag.Name) {
		cfg.Port = ctx.Int(MetricsPortFlag.Name)
	}
}

// SetTelemetryConfig applies tracing-related command line flags to the config.
func SetTelemetryConfig(ctx *cli.Context, cfg *telemetry.Config) {
	if ctx.IsSet(OTLPEndpointFlag.Name) {
		cfg.Endpoint = ctx.String(OTLPEndpointFlag.Name)
	}
	if ctx.IsSet(OTLPServiceFlag.Name) {
		cfg.ServiceName = ctx.String(OTLPServiceFlag.Name)
	}
	if ctx.IsSet(OTLPSampleRatioFlag.Name) {
		cfg.SampleRatio = ctx.Float64(OTLPSampleRatioFlag.Name)
	}
}

// SetupMetrics enables metrics collection and starts the stand-alone
// metrics endpoint when one is configured.
func SetupMetrics(cfg *metrics.Config) {
	if !cfg.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	metrics.Enable()

	if cfg.HTTP != "" {
		address := net.JoinHostPort(cfg.HTTP, fmt.Sprintf("%d", cfg.Port))
		log.Info("Enabling stand-alone metrics HTTP endpoint", "address", address)
		exp.Setup(address)
	} else if cfg.Port != 0 && cfg.Port != metrics.DefaultConfig.Port {
		log.Warn(fmt.Sprintf("--%s specified without --%s, metrics server will not start.", MetricsPortFlag.Name, MetricsHTTPFlag.Name))
	}

	// Enable system metrics collection.
	go metrics.CollectProcessMetrics(3 * time.Second)
}
