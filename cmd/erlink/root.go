package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/pkg/config"
)

// Version is set during build.
var Version = "0.1.0"

var (
	configPath string
	logLevel   string
)

// rootCmd is the entity resolution engine's command-line entry point.
var rootCmd = &cobra.Command{
	Use:   "erlink",
	Short: "Entity resolution engine: block, score, cluster, and synthesize golden records",
	Long: `erlink resolves duplicate records across one or more collections into
weakly-connected-component clusters and synthesizes a golden record per
cluster.

Examples:
  erlink setup --collections people,organizations
  erlink run --config config.yaml
  erlink stats --collection people
  erlink clean --collections people`,
	Version: Version,
}

// Execute adds every subcommand to rootCmd and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level (debug, info, warn, error)")
}

// loadConfig loads configuration and initializes logging from the
// persistent --config/--log_level flags, the way every subcommand starts.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	return cfg, nil
}

// exitCodeFor maps an error's erkit.Kind to the process exit code (0
// success; 2 configuration error; 3 backend error; 4 cancelled). Any other
// error, including one with no erkit.Kind, exits 1.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := erkit.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case erkit.KindConfig:
		return 2
	case erkit.KindBackend, erkit.KindSetup, erkit.KindNotFound:
		return 3
	case erkit.KindCancelled:
		return 4
	default:
		return 1
	}
}
