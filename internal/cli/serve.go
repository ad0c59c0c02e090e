package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Juanbuhler/zmlp-sub000/api"
	"github.com/Juanbuhler/zmlp-sub000/engine"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an archivist replica",
	Long: `Start the HTTP API analysts and operators talk to, the lock worker
pool and the maintenance scheduler. Runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := engine.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}()

	eng, err := engine.New(s, engineOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := api.New(eng, api.WithOperatorToken(cfg.Server.OperatorToken)).Server(cfg.Server.Addr)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("archivist listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("host", eng.Host()),
			slog.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("engine stop: %w", err))
	}
	return runErr
}
