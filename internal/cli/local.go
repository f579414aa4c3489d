package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/logging"
	"github.com/me/kernsim/internal/store"
)

// loadMachineFile reads the --config machine file, or returns the default
// machine with no processes when none was given.
func loadMachineFile(path string) (*config.File, error) {
	if path == "" {
		return &config.File{Machine: config.DefaultMachineConfig()}, nil
	}
	return config.Load(path)
}

// applyFileLogging rebuilds the logger from the machine file's settings
// unless the logging flags were given explicitly.
func applyFileLogging(cmd *cobra.Command, cfg config.MachineConfig) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") || flags.Changed("log-format") || flagDebug {
		return nil
	}
	l, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// resolveDBPath picks the trace database: the --db flag, then the machine
// file, then ~/.kernsim/kernsim.db.
func resolveDBPath(cfg config.MachineConfig) (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kernsim")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "kernsim.db"), nil
}

// openStore opens and migrates the trace database. It returns a nil Store
// when tracing is disabled with --db none.
func openStore(ctx context.Context, cfg config.MachineConfig) (store.Store, error) {
	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return nil, err
	}
	if dbPath == "none" {
		logger.Info("trace database disabled")
		return nil, nil
	}

	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", dbPath)
	return st, nil
}

// openTraceStore opens the trace database for the query commands, which
// need one.
func openTraceStore(ctx context.Context) (store.Store, error) {
	file, err := loadMachineFile(flagConfig)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, file.Machine)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("no trace database (--db none)")
	}
	return st, nil
}
