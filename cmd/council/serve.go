package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/council/pkg/bus"
	"github.com/cuemby/council/pkg/config"
	"github.com/cuemby/council/pkg/council"
	"github.com/cuemby/council/pkg/log"
	"github.com/cuemby/council/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the council coordinator",
	Long: `Start the coordinator's event loop, its transport adapter over
the configured message bus, the stale-interest reaper, and the metrics
and health HTTP endpoints. Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("bus", "", "Message bus kind: memory or tcp (overrides config)")
	serveCmd.Flags().String("addr", "", "Bus broker address, kind=tcp only (overrides config)")
	serveCmd.Flags().String("subject-prefix", "", "Subject prefix for this deployment (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Metrics/health HTTP listen address (overrides config)")
	serveCmd.Flags().CountP("verbose", "v", "Increase log verbosity (repeatable, overrides --log-level downward)")
	// Telemetry export is external policy, not a coordinator concern: the
	// flag is accepted and changes nothing, since Council exports no telemetry.
	serveCmd.Flags().Bool("disable-telemetry", false, "Accepted for compatibility; has no effect")
}

// verbosityLevel maps a repeated -v count onto a log.Level. Council has
// no trace level below debug, so anything past the first -v stays at debug.
func verbosityLevel(count int) log.Level {
	if count >= 1 {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("bus"); v != "" {
		cfg.Bus.Kind = v
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Bus.Addr = v
	}
	if v, _ := cmd.Flags().GetString("subject-prefix"); v != "" {
		cfg.Bus.SubjectPrefix = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}

	if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: verbosityLevel(verbosity), JSONOutput: jsonOut})
	}

	metrics.RegisterComponent("bus", false, "initializing")

	var messageBus bus.MessageBus
	var broker *bus.BrokerServer
	switch cfg.Bus.Kind {
	case "tcp":
		broker = bus.NewBrokerServer()
		if err := broker.Start(cfg.Bus.Addr); err != nil {
			return fmt.Errorf("start bus broker: %w", err)
		}
		tcpBus, err := bus.DialTCPBus(cfg.Bus.Addr)
		if err != nil {
			broker.Stop()
			return fmt.Errorf("dial bus broker: %w", err)
		}
		messageBus = tcpBus
		fmt.Printf("council bus broker listening on %s\n", cfg.Bus.Addr)
	case "memory", "":
		messageBus = bus.NewMemoryBus()
	default:
		return fmt.Errorf("unknown bus kind %q", cfg.Bus.Kind)
	}

	coordinator := council.NewCoordinator(nil)
	transport := council.NewTransport(messageBus, coordinator, cfg.Bus.SubjectPrefix)
	coordinator.SetNotifier(transport)
	reaper := council.NewReaper(coordinator, transport)

	coordinator.Start()
	defer coordinator.Stop()

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer transport.Stop()

	reaper.Start()
	defer reaper.Stop()

	metrics.RegisterComponent("bus", true, "ready")

	collector := metrics.NewCollector(coordinator)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)

	metricsAddr := cfg.Metrics.Addr
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	fmt.Printf("council coordinator running, bus=%s subject_prefix=%s\n", cfg.Bus.Kind, cfg.Bus.SubjectPrefix)
	fmt.Printf("metrics: http://%s/metrics, health: http://%s/health\n", metricsAddr, metricsAddr)

	if broker != nil {
		defer broker.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")

	return nil
}
