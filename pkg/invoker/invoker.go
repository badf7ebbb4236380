// Package invoker wires the Container Pool, Window Registry, Model
// Table and Fleet-State Publisher into one running process and exposes
// a small echo HTTP surface for health checks and read-only debug
// introspection, grounded on
// Wingie-beta9/pkg/gateway/inference_handlers.go's RegisterRoutes/
// handleHealth/handleListNodes shape.
package invoker

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/beta9-preloader/pkg/ack"
	"github.com/beam-cloud/beta9-preloader/pkg/config"
	"github.com/beam-cloud/beta9-preloader/pkg/container"
	"github.com/beam-cloud/beta9-preloader/pkg/fleet"
	"github.com/beam-cloud/beta9-preloader/pkg/metrics"
	"github.com/beam-cloud/beta9-preloader/pkg/pool"
	"github.com/beam-cloud/beta9-preloader/pkg/registry"
	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// Invoker is the top-level service: one Pool actor, the two registries
// it schedules against, the fleet-state publisher, and the HTTP
// control surface operators use to probe it.
type Invoker struct {
	cfg config.AppConfig

	windows *registry.WindowRegistry
	models  *registry.ModelTable
	pool    *pool.Pool

	fleetClient    *fleet.Client
	fleetRead      *fleet.Reader
	fleetPublisher *fleet.Publisher
	hostIP         string

	promRegistry *prometheus.Registry

	echo *echo.Echo

	log zerolog.Logger
}

// New constructs an Invoker from AppConfig: dials Redis, seeds the
// Model Table from config, builds the Pool with an in-memory container
// factory and no-op ack/store/log boundaries (the real broker and
// runtime are out of this module's scope), and registers HTTP routes.
func New(cfg config.AppConfig) *Invoker {
	windows := registry.NewWindowRegistry()
	models := registry.NewModelTable(seedModels(cfg.Preload.Models))

	fleetClient := fleet.NewClient(cfg.Redis)
	publisher := fleet.NewPublisher(fleetClient, cfg.InvokerID)
	reader := fleet.NewReader(fleetClient)

	gauges := metrics.NewPoolGauges(cfg.InvokerID)

	p := pool.New(cfg.InvokerID, cfg.Namespace, pool.Config{
		UserMemoryBudgetMB:   cfg.Pool.UserMemoryMB,
		KeepAliveWindow:      cfg.Pool.DefaultKeepAlive,
		PrewarmConfigs:       seedPrewarm(cfg.Pool.Prewarm),
		PrewarmCheckInterval: cfg.Pool.PrewarmExpirationCheckInterval,
		PrewarmCheckVariance: cfg.Pool.PrewarmExpirationCheckIntervalVariance,
		StaggerMin:           cfg.Preload.StaggerMin,
		StaggerMax:           cfg.Preload.StaggerMax,
		HealthCheckPeriod:    cfg.Pool.HealthCheckPeriod,
		HealthMaxFails:       cfg.Pool.HealthMaxFails,
	}, pool.Deps{
		Factory: container.NewLocalFactory(),
		Acker:   ack.NoopAcker{},
		Store:   ack.NoopStore{},
		Logs:    ack.NoopLogCollector{},
		Fleet:   publisher,
		Gauges:  gauges,
	}, windows, models)

	hostIP := cfg.HostIP
	if hostIP == "" {
		hostIP = metrics.PrivateIP()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewPrometheusCollector(gauges))

	inv := &Invoker{
		cfg:            cfg,
		windows:        windows,
		models:         models,
		pool:           p,
		fleetClient:    fleetClient,
		fleetRead:      reader,
		fleetPublisher: publisher,
		hostIP:         hostIP,
		promRegistry:   promRegistry,
		log:            log.With().Str("component", "invoker").Str("invokerId", cfg.InvokerID).Logger(),
	}
	inv.echo = inv.newEchoServer()
	return inv
}

func seedModels(cfgs []config.ModelSeedConfig) []*registry.ModelData {
	out := make([]*registry.ModelData, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, &registry.ModelData{
			ActionName:          c.ActionName,
			ModelName:           c.ModelName,
			ModelLoadingLatency: time.Duration(c.ModelLoadingLatencyMs) * time.Millisecond,
			ModelSize:           c.ModelSizeMB,
		})
	}
	return out
}

func seedPrewarm(cfgs []config.PrewarmShapeConfig) []pool.PrewarmingConfig {
	out := make([]pool.PrewarmingConfig, 0, len(cfgs))
	for _, c := range cfgs {
		shape := pool.PrewarmingConfig{
			ExecKind:      c.ExecKind,
			MemoryLimitMB: c.MemoryLimitMB,
			InitialCount:  c.InitialCount,
			TTL:           time.Duration(c.TTLSeconds) * time.Second,
		}
		if c.ReactiveMaxCount > 0 {
			shape.Reactive = &pool.ReactiveConfig{
				MinCount:  c.ReactiveMinCount,
				MaxCount:  c.ReactiveMaxCount,
				Threshold: c.ReactiveThreshold,
				Increment: c.ReactiveIncrement,
			}
		}
		out = append(out, shape)
	}
	return out
}

// Run starts the Pool actor and the HTTP control surface, blocking
// until ctx is cancelled.
func (inv *Invoker) Run(ctx context.Context) error {
	if inv.hostIP != "" {
		inv.fleetPublisher.PublishHostIP(ctx, inv.hostIP)
	} else {
		inv.log.Warn().Msg("no hostIP resolved, skipping fleet-state PublishHostIP")
	}

	if vm := inv.cfg.Monitoring.VictoriaMetrics; vm.Enabled {
		if err := metrics.StartPush(vm.PushURL, vm.PushInterval); err != nil {
			inv.log.Warn().Err(err).Msg("failed to start VictoriaMetrics push loop")
		}
	}

	go inv.pool.Run(ctx)
	go inv.runMetricsTicker(ctx)
	go inv.runStaleCleanupTicker(ctx)

	errCh := make(chan error, 1)
	go func() {
		inv.log.Info().Str("addr", inv.cfg.ControlAddr).Msg("starting control HTTP surface")
		errCh <- inv.echo.Start(inv.cfg.ControlAddr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inv.echo.Shutdown(shutdownCtx)
		_ = inv.fleetClient.Close()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// RunActivation places one activation with the Pool, whose Run handler
// records its scheduling-hint window in the Window Registry. This is the
// module's one entrypoint for the (out-of-scope) activation message
// broker to hand off work.
func (inv *Invoker) RunActivation(action *types.Action, am *types.ActivationMessage) {
	inv.pool.Send(pool.RunMsg{Action: action, Activation: am})
}

func (inv *Invoker) runMetricsTicker(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inv.pool.Send(pool.EmitMetricsMsg{})
		}
	}
}

func (inv *Invoker) runStaleCleanupTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := inv.fleetRead.CleanupStale(ctx, 3*time.Minute)
			if err != nil {
				inv.log.Warn().Err(err).Msg("fleet stale cleanup failed")
				continue
			}
			if removed > 0 {
				inv.log.Info().Int("removed", removed).Msg("removed stale invokers from fleet state")
			}
		}
	}
}
