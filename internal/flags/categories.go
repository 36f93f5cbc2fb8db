package flags

import "github.com/urfave/cli/v2"

const (
	ServerCategory     = "SERVER"
	SimulationCategory = "SIMULATION"
	EngineCategory     = "ENGINE"
	MetricsCategory    = "METRICS AND TELEMETRY"
	LoggingCategory    = "LOGGING AND DEBUGGING"
	MiscCategory       = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
