package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/internal/telemetry"
	"github.com/marmos91/nexus/pkg/bufpool"
	"github.com/marmos91/nexus/pkg/config"
	"github.com/marmos91/nexus/pkg/metrics"
	"github.com/marmos91/nexus/pkg/rpcengine"
	"github.com/marmos91/nexus/pkg/transport/udptransport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	// Registers the Prometheus collector constructor via its init().
	_ "github.com/marmos91/nexus/pkg/metrics/prometheus"
)

var nestedDemoEnabled bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Nexus RPC daemon",
	Long: `Start a Nexus endpoint: bind the Session-Management Thread and a
single RPC Instance, register the bundled demo handlers, and drive the
event loop until SIGINT/SIGTERM.

Examples:
  # Start with default config location
  nexusd start

  # Start with a custom config file
  nexusd start --config /etc/nexus/config.yaml

  # Start with the nested-RPC demo enabled (spec.md §8 scenario 3)
  nexusd start --nested-demo`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&nestedDemoEnabled, "nested-demo", false, "Enable the self-loopback nested-RPC demo handler (req_type=11)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nexus",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = telemetryShutdown(shutdownCtx)
	}()

	// g supervises every long-running goroutine this command owns: the
	// optional metrics server, the event loop, and the signal watcher that
	// cancels ctx on SIGINT/SIGTERM. Wait returns once all three have
	// drained, replacing a hand-rolled done-channel per goroutine.
	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	managementAddr := fmt.Sprintf("%s:%d", cfg.Nexus.Host, cfg.Nexus.ManagementPort)
	nexusCfg := rpcengine.DefaultNexusConfig(cfg.Nexus.Host, managementAddr)
	nexusCfg.MaxSessionsPerInstance = cfg.Nexus.MaxSessions
	nexusCfg.WorkerPool.Workers = cfg.Nexus.WorkerPoolSize
	nexusCfg.WorkerPool.QueueDepth = cfg.Nexus.WorkerQueueDepth

	n, err := rpcengine.NewNexus(nexusCfg)
	if err != nil {
		return fmt.Errorf("failed to construct nexus: %w", err)
	}

	var backup *nestedDemo
	if nestedDemoEnabled {
		backup = &nestedDemo{}
	}
	if err := registerDemoHandlers(n, backup); err != nil {
		return fmt.Errorf("failed to register demo handlers: %w", err)
	}

	n.Start(ctx)
	logger.Info("session-management thread listening", "addr", managementAddr)

	dataAddr := fmt.Sprintf("%s:%d", cfg.Nexus.Host, cfg.Nexus.DataPortBase)
	tr, err := udptransport.Listen(dataAddr)
	if err != nil {
		return fmt.Errorf("failed to bind data transport: %w", err)
	}

	pool := bufpool.NewPool(bufpool.Config{
		TierSizes:    cfg.Instance.BufferTiers,
		TierCapacity: bufpool.DefaultTierCapacity,
	})

	inst, err := n.NewInstance(tr, rpcengine.InstanceOptions{
		WindowSize: cfg.Instance.WindowSize,
		BufferPool: pool,
	})
	if err != nil {
		return fmt.Errorf("failed to construct rpc instance: %w", err)
	}
	logger.Info("rpc instance listening", "addr", dataAddr, "window_size", cfg.Instance.WindowSize)

	if nestedDemoEnabled {
		sess, err := inst.Connect(managementAddr)
		if err != nil {
			logger.Error("nested-demo self-connect failed", "error", err)
		} else {
			backup.backupClient = inst
			backup.backupSess = sess
			logger.Info("nested-rpc demo ready", "backup_session", sess)
		}
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			default:
				inst.RunEventLoopOnce()
				time.Sleep(time.Millisecond)
			}
		}
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("shutdown signal received, draining")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("nexusd is running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil {
		logger.Error("goroutine group exited with error", "error", err)
	}

	n.Stop()
	if err := inst.Close(); err != nil {
		logger.Error("instance close error", "error", err)
	}
	logger.Info("nexusd stopped")
	return nil
}
