// forksim serves EVM transaction simulations against forked chain state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/forksim/forksim/cmd/utils"
	"github.com/forksim/forksim/common/gopool"
	"github.com/forksim/forksim/engine"
	"github.com/forksim/forksim/etherscan"
	"github.com/forksim/forksim/internal/debug"
	"github.com/forksim/forksim/internal/flags"
	"github.com/forksim/forksim/internal/telemetry"
	"github.com/forksim/forksim/server"
	"github.com/forksim/forksim/simulation"
	"github.com/urfave/cli/v2"

	// Force-load GOMAXPROCS from the container quota.
	_ "go.uber.org/automaxprocs"
)

const telemetryFlushTimeout = 5 * time.Second

var app = flags.NewApp("simulate EVM transactions against forked chain state")

func init() {
	app.Action = forksim
	app.Commands = []*cli.Command{
		dumpConfigCommand,
	}
	app.Flags = flags.Merge(
		[]cli.Flag{configFileFlag},
		utils.ServerFlags,
		utils.SimulationFlags,
		utils.EngineFlags,
		utils.MetricsFlags,
		debug.Flags,
	)
	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// forksim is the main entry point. It serves the simulation API until the
// process is interrupted.
func forksim(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		utils.Fatalf("%v", err)
	}
	utils.SetupMetrics(&cfg.Metrics)

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(sigctx, cfg.Telemetry)
	if err != nil {
		utils.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Failed to flush traces", "err", err)
		}
	}()

	factory := simulation.FromFactory(engine.NewFactory(cfg.Engine, func(apiKey string) engine.Identifier {
		return etherscan.NewClient(etherscan.DefaultURL, apiKey)
	}))
	// Sessions are closed before the fetch pool goes away.
	defer gopool.Release()
	registry := simulation.NewRegistry(factory)
	defer registry.Close()

	fork := "built-in endpoints"
	if cfg.Simulation.ForkURL != "" {
		fork = utils.ShortURL(cfg.Simulation.ForkURL)
	}
	log.Info("Starting forksim", "version", flags.Version, "fork", fork, "etherscan", cfg.Simulation.EtherscanKey != "")

	api := simulation.NewAPI(cfg.Simulation, factory, registry)
	if err := server.New(cfg.Server, api).Serve(sigctx); err != nil {
		return err
	}
	log.Info("Shutting down", "sessions", registry.Len())
	return nil
}
