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

	"github.com/hazyhaar/pagesnap/connectivity"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		addr   string
		reload time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the screenshot viewer and capture API",
		Long: `Serve the viewer page, the screenshot download endpoints, the capture
API and the action bridge used by browser extensions.

Rows in the routes table of the store can send an action to a remote
pagesnap (strategy "http") or disable it (strategy "noop"). The table is
re-read every --reload interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			router := connectivity.New(connectivity.WithLogger(logger))
			defer router.Close()
			router.RegisterTransport("http", connectivity.HTTPFactory())
			svc.RegisterConnectivity(router)
			if reload > 0 {
				go router.Watch(ctx, svc.DB(), reload)
			}

			// No write timeout: captures and the event stream outlive any
			// sensible fixed bound.
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           svc.Handler(router),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown", "error", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from the config)")
	cmd.Flags().DurationVar(&reload, "reload", 5*time.Second, "Routes table reload interval; 0 disables reloading")

	return cmd
}

