package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.db.Close()

			shutdownTracing, err := telemetry.SetupTracing(ctx, e.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					e.logger.Warn("tracing shutdown", "error", err)
				}
			}()

			app, err := e.app()
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              ":" + e.cfg.Port,
				Handler:           app.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				app.Run(ctx)
			}()

			errc := make(chan error, 1)
			go func() {
				e.logger.Info("listening", "addr", srv.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				e.logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil {
					e.logger.Error("http shutdown", "error", err)
				}
			}
			wg.Wait()
			return nil
		},
	}
}
