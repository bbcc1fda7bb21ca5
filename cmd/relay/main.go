package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/app"
	"parley/internal/log"
	"parley/internal/relay"
)

const shutdownGrace = 5 * time.Second

func main() {
	var (
		cfgFile string
		listen  string
	)
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Run the parley relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadServerFile(cfgFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVarP(&cfgFile, "config", "f", "", "path to the relay TOML config")
	root.Flags().StringVar(&listen, "listen", "", "listen address, overrides the config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.ServerConfig) error {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return fmt.Errorf("failed to create logging backend: %v", err)
	}
	defer backend.Close()
	logger := backend.GetLogger("relay")

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: relay.NewServer(
			relay.WithLogger(logger),
			relay.WithMaxQueue(cfg.Server.MaxQueue),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Noticef("Relay listening on %s", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Notice("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
