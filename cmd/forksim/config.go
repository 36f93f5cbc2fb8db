package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/forksim/forksim/cmd/utils"
	"github.com/forksim/forksim/engine"
	"github.com/forksim/forksim/internal/flags"
	"github.com/forksim/forksim/internal/telemetry"
	"github.com/forksim/forksim/server"
	"github.com/forksim/forksim/simulation"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Flags:       flags.Merge(utils.ServerFlags, utils.SimulationFlags, utils.EngineFlags, utils.MetricsFlags, []cli.Flag{configFileFlag}),
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}

	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type forksimConfig struct {
	Server     server.Config
	Simulation simulation.Config
	Engine     engine.Config
	Metrics    metrics.Config
	Telemetry  telemetry.Config
}

func defaultConfig() forksimConfig {
	return forksimConfig{
		Server:    server.DefaultConfig,
		Engine:    engine.DefaultConfig,
		Metrics:   metrics.DefaultConfig,
		Telemetry: telemetry.DefaultConfig,
	}
}

func loadConfig(file string, cfg *forksimConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then the command
// line flags, each layer overriding the previous one.
func makeConfig(ctx *cli.Context) (forksimConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	utils.SetServerConfig(ctx, &cfg.Server)
	utils.SetSimulationConfig(ctx, &cfg.Simulation)
	utils.SetEngineConfig(ctx, &cfg.Engine)
	utils.SetMetricsConfig(ctx, &cfg.Metrics)
	utils.SetTelemetryConfig(ctx, &cfg.Telemetry)
	return cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	_, err = dump.Write(out)
	return err
}
