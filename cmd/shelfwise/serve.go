package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shelfwise/internal/app"
	"shelfwise/internal/observability"
	"shelfwise/internal/seed"
	"shelfwise/internal/store/postgres"
)

func serveCmd() *cobra.Command {
	var migrate, withSeed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := env()
			if err != nil {
				return err
			}

			telemetry, err := observability.Setup(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(sctx); err != nil {
					log.Warn("telemetry shutdown", "err", err)
				}
			}()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate && a.DB() != nil {
				if err := postgres.Migrate(ctx, a.DB()); err != nil {
					return err
				}
			}
			if withSeed {
				cat, err := seed.Load(cfg.SeedFile)
				if err != nil {
					return err
				}
				if _, err := seed.New(a.Store, a.Membership, log).Run(ctx, cat); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           a.Handler,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", "addr", srv.Addr, "store", cfg.Store, "version", version)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	cmd.Flags().BoolVar(&withSeed, "seed", false, "load the seed catalogue before serving")
	return cmd
}
