// Package cli implements the kernsim command line: headless runs, the API
// server, trace queries against the local database and remote control of a
// running server.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagDB        string
	flagConfig    string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking KERNSIM_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("KERNSIM_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the kernsim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernsim",
		Short: "kernsim: process scheduling on a simulated amd64 core",
		Long: `kernsim boots a simulated single-core amd64 machine, runs processes on it
under a preemptive priority round-robin scheduler and records every
scheduling decision to a SQLite trace database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.New(logging.Options{
				Level:  flagLogLevel,
				Format: flagLogFormat,
				Writer: cmd.ErrOrStderr(),
				Debug:  flagDebug,
			})
			if err != nil {
				return err
			}
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "kernsim server URL (or KERNSIM_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Trace database path (default ~/.kernsim/kernsim.db, \"none\" to disable)")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Machine file (YAML)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newRunsCmd(),
		newEventsCmd(),
		newProgramsCmd(),
		newPsCmd(),
		newSpawnCmd(),
		newWakeCmd(),
		newNiceCmd(),
		newStatsCmd(),
	)

	return root
}
