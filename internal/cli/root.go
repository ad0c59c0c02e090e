// Package cli implements the archivist command-line interface using Cobra.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/audit"
	"github.com/Juanbuhler/zmlp-sub000/engine"
	"github.com/Juanbuhler/zmlp-sub000/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "archivist dispatches processing tasks to a fleet of analysts",
	Long: `archivist hands waiting tasks to analyst processes, tracks their
lifecycle events and runs cluster maintenance under cluster-wide locks.

Configuration comes from a TOML file, a .env file and ARCHIVIST_*
environment variables, later sources winning.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "archivist.toml", "path to the TOML config file")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the process logger from it.
func loadConfig() (archivist.Config, *slog.Logger, error) {
	cfg, err := archivist.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func engineOptions(cfg archivist.Config, logger *slog.Logger) []engine.Option {
	opts := []engine.Option{engine.WithConfig(cfg), engine.WithLogger(logger)}
	if cfg.Logging.Audit {
		rec := audit.NewLogRecorder(logger.With(slog.String("component", "audit")))
		opts = append(opts, engine.WithExtension(audit.New(rec, audit.WithLogger(logger))))
	}
	return opts
}
