package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/machine"
	"github.com/me/kernsim/internal/server"
	"github.com/me/kernsim/internal/workload"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the machine in real time behind the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadMachineFile(flagConfig)
			if err != nil {
				return err
			}
			if err := applyFileLogging(cmd, file.Machine); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				file.Machine.Addr = addr
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, file.Machine)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			m := machine.New(file.Machine, st, workload.NewRegistry(), logger)
			if err := m.Boot(ctx, file.Processes); err != nil {
				return err
			}

			srv := server.New(m, st, logger)
			httpServer := &http.Server{
				Addr:              file.Machine.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start the machine in background.
			go func() {
				if err := m.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("machine failed", "error", err)
				}
			}()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", file.Machine.Addr, "run_id", m.RunID())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err = <-serveErr:
				logger.Error("server failed", "error", err)
			}
			logger.Info("shutting down")
			stop()

			// Stop the machine before the HTTP server.
			m.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
				logger.Error("http shutdown", "error", serr)
			}
			if serr := m.Shutdown(shutdownCtx); serr != nil {
				logger.Error("machine shutdown", "error", serr)
			}
			logger.Info("server stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (overrides the machine file)")
	return cmd
}
