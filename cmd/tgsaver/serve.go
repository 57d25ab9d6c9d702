package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockedby/tgsaver/internal/collector"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the websocket event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				opts.cfg.HTTPPort = port
			}
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides HTTP_PORT)")
	return cmd
}

func serve(parent context.Context, opts *rootOptions) error {
	log := logger.Get()
	log.Info().Msg("starting tgsaver api")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// no session is fine here, the login runs over /api/v1/auth/qr
	a, err := open(ctx, opts.cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := web.NewHub()
	go hub.Run()
	go hub.Forward(ctx, a.bus, opts.cfg.EventBuffer)

	runs := collector.NewRunManager(a.service)
	api := collector.NewRouter(collector.NewHandler(a.service, runs, opts.cfg.MaxRange))

	server := web.NewServer(&web.Config{
		Port:     opts.cfg.HTTPPort,
		FilesDir: a.store.Root(),
	}, api, hub)
	auth := web.NewAuthHandler(a.tg, hub)
	a.tg.OnStatusChange(auth.StatusChanged)
	server.RegisterAuthHandler(auth)
	if err := server.RegisterMetrics(a.stats, a.limiter); err != nil {
		return err
	}

	if err := server.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("url", server.BaseURL()).Msg("web server listening")
		if err := server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info().Msg("shutting down services...")

	runs.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := runs.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("run did not stop in time")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
