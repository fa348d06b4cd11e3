package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/faultbridge/pkg/api"
	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/config"
	"github.com/cuemby/faultbridge/pkg/directory"
	"github.com/cuemby/faultbridge/pkg/events"
	"github.com/cuemby/faultbridge/pkg/health"
	"github.com/cuemby/faultbridge/pkg/identity"
	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/normalizer"
	"github.com/cuemby/faultbridge/pkg/storage"
	"github.com/cuemby/faultbridge/pkg/subscription"
	"github.com/cuemby/faultbridge/pkg/supervisor"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingester",
	Long: `Run the ingester until interrupted.

SIGHUP reloads the device directory. SIGINT or SIGTERM stops every cluster,
waiting up to supervisor.shutdown_timeout for in-flight records to drain.`,
	RunE: runIngester,
}

func init() {
	addConfigFlag(runCmd)
	runCmd.Flags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	runCmd.Flags().Bool("log-json", false, "Force JSON log output")
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "faultbridge.yaml", "Configuration file")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		level = f.Value.String()
	}
	jsonOut := cfg.Log.JSON
	if f := cmd.Flags().Lookup("log-json"); f != nil && f.Changed {
		jsonOut, _ = cmd.Flags().GetBool("log-json")
	}
	log.Init(log.Config{Level: log.ParseLevel(level), JSONOutput: jsonOut, Output: os.Stderr})
	return cfg, nil
}

func tlsConfig(cfg *config.Config) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed controllers
	}
}

func loadDirectory(cfg *config.Config) (*directory.Directory, error) {
	if cfg.DirectoryFile == "" {
		log.Warn("No directory_file configured, events will carry no device identity")
		return directory.New(nil), nil
	}
	return directory.Load(cfg.DirectoryFile)
}

func runIngester(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	clusters := cfg.Clusters()
	logger.Info().Int("clusters", len(clusters)).Str("data_dir", cfg.DataDir).Msg("Starting faultbridge")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "bbolt open")

	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}
	cache := identity.New(dir, identity.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries})
	norm := normalizer.New(cache)

	broker := events.NewBroker(cfg.Sink.QueueSize)
	broker.Start()
	go events.LogEvents(log.WithComponent("events"), broker.Subscribe(cfg.Sink.QueueSize))

	tlsCfg := tlsConfig(cfg)
	factory := &supervisor.ControllerFactory{
		TLSConfig: tlsCfg,
		Query: supervisor.QueryLimits{
			Timeout:   cfg.Query.Timeout,
			RateLimit: cfg.Query.RateLimit,
			Burst:     cfg.Query.Burst,
		},
		Subscription: subscription.Config{
			Workers:         cfg.Subscription.Workers,
			Backlog:         cfg.Subscription.Backlog,
			TickInterval:    cfg.Subscription.TickInterval,
			RefreshInterval: cfg.Subscription.RefreshInterval,
			CallTimeout:     cfg.Query.Timeout,
		},
		Normalizer: norm,
		Sink:       broker,
		Store:      store,
		Poll:       supervisor.PollConfig{Lookback: cfg.Supervisor.PollLookback},
	}

	sup := supervisor.New(clusters, factory, supervisor.Config{
		ReconcileInterval:  cfg.Supervisor.ReconcileInterval,
		RestartCeiling:     cfg.Supervisor.RestartCeiling,
		RestartGrace:       cfg.Supervisor.RestartGrace,
		ShutdownTimeout:    cfg.Supervisor.ShutdownTimeout,
		MaxRestartFailures: cfg.Supervisor.MaxRestartFailures,
		RestartBackoff:     cfg.Supervisor.RestartBackoff,
	})
	factory.Notify = sup.StateChanges()
	sup.Start()

	checkers := make(map[string]health.Checker, len(clusters))
	dial := health.APICDialer(apic.Config{TLSConfig: tlsCfg, Timeout: cfg.Query.Timeout})
	for _, c := range clusters {
		checkers[c.Name] = health.NewControllerChecker(c, dial)
	}
	monitor := health.NewMonitor(checkers, health.Config{Interval: cfg.Supervisor.HealthInterval, Timeout: cfg.Query.Timeout})
	monitor.Start()

	collector := metrics.NewCollector(sup, 0)
	collector.Start()

	server := api.NewServer(sup, monitor)
	if err := server.Start(cfg.ListenAddr); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			break
		}
		if err := dir.Reload(); err != nil {
			logger.Error().Err(err).Msg("Directory reload failed, keeping previous devices")
			continue
		}
		cache.Purge()
		log.Info("Identity cache purged after directory reload")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout)
	defer cancel()

	shutdownErr := sup.Shutdown(ctx)
	monitor.Stop()
	collector.Stop()
	broker.Stop()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP API shutdown")
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
