package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infercore/infercore/internal/audit"
	"github.com/infercore/infercore/internal/backend"
	"github.com/infercore/infercore/internal/bulkhead"
	"github.com/infercore/infercore/internal/chattemplate"
	"github.com/infercore/infercore/internal/config"
	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/generation"
	"github.com/infercore/infercore/internal/hardware"
	"github.com/infercore/infercore/internal/health"
	"github.com/infercore/infercore/internal/metering"
	"github.com/infercore/infercore/internal/metricsstore"
	"github.com/infercore/infercore/internal/observability"
	"github.com/infercore/infercore/internal/orchestrator"
	"github.com/infercore/infercore/internal/plugin"
	"github.com/infercore/infercore/internal/quota"
	"github.com/infercore/infercore/internal/registry"
	"github.com/infercore/infercore/internal/selection"
	"github.com/infercore/infercore/internal/warmpool"
)

// app bundles every component the CLI subcommands need, built once from the
// loaded config. It is the single wiring point between the ambient stack
// (config/audit/observability/metering/health) and the core components
// (selection/quota/warmpool/generation/orchestrator).
type app struct {
	cfg    config.Config
	logger *slog.Logger

	audit    *audit.Store
	registry *registry.Store
	obs      observability.Providers
	metering *metering.Meter
	metrics  *metricsstore.Store
	health   *health.Checker
	pool     *warmpool.Pool

	orch *orchestrator.Orchestrator

	shutdown func(context.Context) error
}

const mockRunnerName = "mock-gguf"

// bootstrap loads config and wires every collaborator. cfgPath may be empty
// to use only defaults plus environment overrides.
func bootstrap(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	obs, err := observability.Init(observability.Config{
		ServiceName:  "infercored",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		LogJSON:      cfg.Logging.JSON,
		LogLevel:     cfg.Logging.SlogLevel(),
		Registerer:   prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger := obs.Logger

	dataDir := filepath.Join(config.Home(), "data")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	auditStore, err := audit.Open(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	manifests, err := registry.Open(dataDir)
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("open manifest registry: %w", err)
	}

	hw := hardware.New()
	metrics := metricsstore.New()
	policy := selection.New(metrics, cfg.Selection.Weights(), logger)
	quotaLimiter := quota.New(nil, logger)

	pool := warmpool.New(warmpool.Config{MaxSize: cfg.Pool.MaxSize, IdleTTL: cfg.Pool.Duration()}, logger)

	loop := generation.New(generation.DefaultConfig(), chattemplate.Render, logger)

	plugins, err := plugin.New(ctx, cfg.Plugins.PluginMode(), logger, nil)
	if err != nil {
		manifests.Close()
		auditStore.Close()
		return nil, fmt.Errorf("init plugins: %w", err)
	}

	backends := map[string]domain.NativeBackend{mockRunnerName: backend.NewMockBackend()}
	runners := map[string]domain.RunnerMetadata{
		mockRunnerName: {
			Name:             mockRunnerName,
			Framework:        "mock",
			SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF, domain.FormatONNX, domain.FormatTFLite},
			SupportedDevices: []domain.DeviceKind{domain.DeviceCPU},
			Capabilities:     domain.RunnerCapabilities{Streaming: true, MaxContextTokens: 4096},
		},
	}
	metrics.SetCapacity(mockRunnerName, int64(cfg.Bulkhead.MaxInFlight))

	meter := metering.New(1024)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Breaker = cfg.Resilience.Breaker()
	orchCfg.Bulkhead = cfg.Bulkhead.Bulkhead()
	orchCfg.DefaultStrategy = selection.Strategy(cfg.Selection.Strategy)

	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Hardware:  hw,
		Metrics:   metrics,
		Policy:    policy,
		Quota:     quotaLimiter,
		Pool:      pool,
		Loop:      loop,
		Plugins:   plugins,
		Manifests: manifests,
		Audit:     auditStore,
		Backends:  backends,
		Runners:   runners,
		Logger:    logger,
	})

	checker := health.New(time.Minute, []health.Check{
		health.AuditCheck(auditStore),
		{Name: "manifest_registry", CheckFn: func(context.Context) error { return manifests.Ping() }},
		health.PoolCheck(func() (bool, string) {
			stats := pool.Stats()
			if stats.Size >= cfg.Pool.MaxSize {
				return false, "warm pool at capacity"
			}
			return true, ""
		}),
		health.BreakersCheck(func() map[string]bool {
			return map[string]bool{mockRunnerName: metrics.Snapshot(mockRunnerName).Healthy}
		}),
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		audit:    auditStore,
		registry: manifests,
		obs:      obs,
		metering: meter,
		metrics:  metrics,
		health:   checker,
		pool:     pool,
		orch:     orch,
		shutdown: func(shutdownCtx context.Context) error {
			manifests.Close()
			auditStore.Close()
			return obs.Shutdown(shutdownCtx)
		},
	}
	return a, nil
}

// maintain runs periodic background upkeep (job reaping, idle pool
// eviction, metrics history sampling, health checks) until ctx is cancelled.
func (a *app) maintain(ctx context.Context) {
	go a.pool.IdleReaper(ctx, time.Minute)
	go a.health.Run(ctx)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.orch.ReapJobs(now)
			for _, runner := range a.metrics.Runners() {
				a.metrics.Sample(runner, now)
			}
		}
	}
}
