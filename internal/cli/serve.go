package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/goquota/internal/maintenance"
	"github.com/vnykmshr/goquota/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the goquota HTTP server and maintenance jobs",
		Long: `Starts an HTTP server in front of the shared limiter.

Endpoints:
  GET    /v1/limits/{key}/check     Evaluate a limit (?algorithm=... or ?rules=<set>)
  GET    /v1/limits/{key}/status    Stored state for a key
  GET    /v1/limits/{key}/metrics   Request counters for a key
  DELETE /v1/limits/{key}           Reset a key (?rules=<set> for rule keys)
  WS     /v1/events                 Live feed of check decisions
  GET    /healthz                   Store health
  GET    /metrics                   Prometheus metrics

Procedures are preloaded at startup and on the maintenance preload schedule.`,
		Example: `  goquota serve --config goquota.json
  GOQUOTA_REDIS_ADDR=redis:6379 goquota serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts, true)
			if err != nil {
				return err
			}
			defer e.Close()

			if addr != "" {
				e.cfg.Server.Addr = addr
			}
			rules, err := e.cfg.AllRules()
			if err != nil {
				return err
			}
			resets, err := e.cfg.Resets()
			if err != nil {
				return err
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The store may still be starting; the preload job retries.
			if n, err := e.limiter.PreloadProcedures(ctx); err != nil {
				e.log.Warn("procedure preload failed", slog.Any("err", err))
			} else {
				e.log.Info("procedures preloaded", slog.Int("loaded", n))
			}

			sched, err := maintenance.New(e.limiter, maintenance.Config{
				PreloadSchedule: e.cfg.Maintenance.PreloadSchedule,
				Resets:          resets,
				Metrics:         e.limiter.Metrics(),
				Logger:          e.log,
			})
			if err != nil {
				return err
			}
			sched.Start()

			srv := server.New(e.limiter, server.Options{
				Addr:   e.cfg.Server.Addr,
				Rules:  rules,
				Logger: e.log,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return errors.Join(err, sched.Stop(stopCtx))
			case <-ctx.Done():
				e.log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return errors.Join(srv.Shutdown(shutdownCtx), sched.Stop(shutdownCtx))
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (overrides the config)")
	return cmd
}
