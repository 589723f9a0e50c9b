package cliapp

import (
	"github.com/spf13/cobra"
)

const versionString = "1.0.0"
const defaultConfigPath = "./resgraph.toml"

type cliOptions struct {
	configPath string
	dir        string
	snapshot   string
	otlp       string
	verbose    bool
}

func newRootCommand(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "graphctl",
		Short: "Inspect and snapshot resource graph stores",
		Long: `graphctl opens a durable resource graph (a store directory or a snapshot
file) and runs read-only queries or takes snapshots against it.`,
		Version:       versionString,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	flags.StringVar(&opts.dir, "dir", "", "Store directory (overrides store.dir)")
	flags.StringVar(&opts.snapshot, "snapshot", "", "Open a snapshot file instead of a store directory")
	flags.StringVar(&opts.otlp, "otlp-endpoint", "", "OTLP/gRPC endpoint for traces (overrides observability.otlp_endpoint)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newStatsCommand(opts),
		newSearchCommand(opts),
		newPathCommand(opts),
		newNeighborsCommand(opts),
		newTopCommand(opts),
		newSnapshotCommand(opts),
		newExportCommand(opts),
	)
	return root
}
