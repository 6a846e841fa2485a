package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/djt/pkg/api"
	"github.com/cuemby/djt/pkg/config"
	"github.com/cuemby/djt/pkg/events"
	"github.com/cuemby/djt/pkg/health"
	"github.com/cuemby/djt/pkg/jobkey"
	"github.com/cuemby/djt/pkg/jobstore"
	"github.com/cuemby/djt/pkg/log"
	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/notify"
	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the djt API server",
	Long: `Run the djt API server.

Configuration is read from defaults, then the YAML file given by --config,
then DJT_* environment variables (optionally loaded from .env files), then
command line flags.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	serveCmd.Flags().StringSlice("env-file", nil, "Load environment variables from these files (default .env)")
	serveCmd.Flags().String("addr", "", "Address for the HTTP API")
	serveCmd.Flags().String("backend", "", "Store backend: bolt, postgres or memory")
	serveCmd.Flags().String("data-dir", "", "Data directory for the bolt backend")
	serveCmd.Flags().String("postgres-dsn", "", "Postgres connection string")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	serveCmd.Flags().Bool("read-only", false, "Reject mutating requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("djt")

	api.Version = Version
	metrics.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close store")
		}
	}()
	metrics.RegisterComponent("store", true, cfg.Store.Backend)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sinks, err := buildSinks(cfg.Notify, logger)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(broker, log.WithComponent("notify"), sinks...)

	jobs := jobstore.New(store, cfg.Store.Timeout)
	svc := tracker.NewService(jobs, jobkey.NewRegistry(), broker, log.WithComponent("tracker"))

	collector := metrics.NewCollector(store, cfg.Metrics.CollectInterval, log.WithComponent("metrics"))
	collector.Start()
	defer collector.Stop()

	opts := api.Options{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadOnly:        cfg.Server.ReadOnly,
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimit = &api.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}
	server := api.NewServer(svc, opts, log.WithComponent("api"))

	logger.Info().
		Str("version", Version).
		Str("backend", cfg.Store.Backend).
		Str("addr", cfg.Server.Addr).
		Bool("read_only", cfg.Server.ReadOnly).
		Msg("Starting djt")

	monitor := health.NewMonitor(health.DefaultConfig(), log.WithComponent("health"), sinkProbes(cfg.Notify)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// loadServeConfig layers command line flags over config.Load
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	envFiles, _ := flags.GetStringSlice("env-file")
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("backend") {
		cfg.Store.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("data-dir") {
		cfg.Store.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("postgres-dsn") {
		cfg.Store.PostgresDSN, _ = flags.GetString("postgres-dsn")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("read-only") {
		cfg.Server.ReadOnly, _ = flags.GetBool("read-only")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured backend. Postgres schemas are migrated
// to the latest version before use.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn().Msg("Using in-memory store, jobs are lost on restart")
		return storage.NewMemoryStore(), nil

	case "bolt":
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return store, nil

	case "postgres":
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN, otel.Tracer("djt/storage"), cfg.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := storage.MigrateUp(store.Pool()); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// buildSinks connects the enabled notification sinks. The log sink is
// used when nothing else is configured.
func buildSinks(cfg config.NotifyConfig, logger zerolog.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if cfg.Kafka.Enabled {
		sink, err := notify.ConnectKafka(notify.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			ClientID:       cfg.Kafka.ClientID,
			MaxElapsedTime: cfg.Kafka.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Timeout, cfg.Webhook.MaxRetries))
	}

	if len(sinks) == 0 {
		sinks = append(sinks, notify.NewLogSink(log.WithComponent("events")))
	}
	return sinks, nil
}

// sinkProbes returns reachability probes for the enabled remote sinks
func sinkProbes(cfg config.NotifyConfig) []health.Probe {
	var probes []health.Probe
	if cfg.Kafka.Enabled {
		probes = append(probes, health.Probe{Name: "kafka", Checker: health.NewTCPChecker(cfg.Kafka.Brokers...)})
	}
	if cfg.Webhook.URL != "" {
		probes = append(probes, health.Probe{Name: "webhook", Checker: health.NewHTTPChecker(cfg.Webhook.URL)})
	}
	return probes
}
