package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/server"
)

func serveCmd() *cobra.Command {
	var port, dbPath, logFormat string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the chat server until SIGINT or SIGTERM.

Settings come from the environment (and an optional .env file); flags
override the port, database path and log format.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig()
			if err != nil {
				return err
			}
			cfg, err = cfg.Override(port, dbPath, logFormat)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen address or port (overrides SERVER_PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "bbolt database path (overrides DATABASE_PATH)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")

	return cmd
}

func serve(parent context.Context, cfg server.Config) error {
	log := logging.New(cfg.LogFormat, cfg.LogLevel)
	log.Info("starting chat server", "version", version, "port", cfg.Port, "db", cfg.DatabasePath)

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
