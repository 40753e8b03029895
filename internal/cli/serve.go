package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inference serving core as a background daemon",
	Long: `Loads configuration, wires the hardware probe, selection policy, warm
pool, quota limiter, and resilience primitives, then blocks running
background maintenance (job reaping, idle pool eviction, health checks)
until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cfgPath)
	if err != nil {
		return err
	}

	a.logger.Info("infercored starting",
		slog.String("node_id", a.cfg.Node.ID),
		slog.Int("pool_max_size", a.cfg.Pool.MaxSize),
	)

	go a.maintain(ctx)

	<-ctx.Done()
	a.logger.Info("infercored shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.shutdown(shutdownCtx)
}
