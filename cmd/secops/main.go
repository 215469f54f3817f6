// Command secops runs the security operations core: threat intel
// feeds, AI scoring, SOAR playbook orchestration, zero-trust access
// evaluation, and autonomous defense behind one HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secops-platform/secops-core/internal/analysis"
	"github.com/secops-platform/secops-core/internal/config"
	"github.com/secops-platform/secops-core/internal/connector"
	"github.com/secops-platform/secops-core/internal/defense"
	"github.com/secops-platform/secops-core/internal/ingest"
	"github.com/secops-platform/secops-core/internal/intel"
	"github.com/secops-platform/secops-core/internal/metrics"
	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/repository"
	"github.com/secops-platform/secops-core/internal/response"
	"github.com/secops-platform/secops-core/internal/server"
	"github.com/secops-platform/secops-core/internal/siem"
	"github.com/secops-platform/secops-core/internal/soar"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	"github.com/secops-platform/secops-core/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	log.Info("starting service",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"version", cfg.Version,
		"port", cfg.HTTPPort)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	m := metrics.New()

	// Storage. Memory store backs everything the external stores do not
	// cover in this deployment.
	memStore := repository.NewMemoryStore()
	var (
		execStore    repository.ExecutionStore = memStore
		reportStore  repository.ReportStore    = memStore
		auditStore   repository.AuditStore     = memStore
		eventArchive repository.EventArchive   = memStore
	)

	if cfg.PostgresDSN != "" {
		pg, err := repository.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		execStore = pg
		reportStore = pg
		log.Info("postgres store ready")
	}

	var chStore *repository.ClickHouseStore
	if cfg.ClickHouseDSN != "" {
		chCfg := repository.DefaultClickHouseConfig()
		chCfg.Hosts = []string{cfg.ClickHouseDSN}
		chStore, err = repository.NewClickHouseStore(chCfg, log)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		chStore.Start(rootCtx)
		defer chStore.Close()
		auditStore = chStore
		eventArchive = chStore
		log.Info("clickhouse store ready")
	}

	// Threat intelligence.
	intelStore := intel.NewStore(log)
	var feedSources []intel.FeedSource
	if cfg.FeedConfigPath != "" {
		if sources, err := intel.LoadFeedSources(cfg.FeedConfigPath); err != nil {
			log.Warn("feed config not loaded, polling disabled", "error", err)
		} else {
			feedSources = sources
		}
	}
	feedPoller := intel.NewPoller(intelStore, feedSources, cfg.FeedPollInterval, cfg.IOCRetention, log)
	feedPoller.Start(rootCtx)
	defer feedPoller.Stop()

	enricher := intel.NewEnricher(intelStore, log)

	// Analysis.
	baselines := analysis.NewBaselineRegistry()
	scorer := analysis.NewScorer(baselines, log)
	scorer.Start(rootCtx)
	defer scorer.Stop()

	// Notifications.
	notifier := response.NewNotifyManager(log)
	if cfg.SlackWebhookURL != "" {
		notifier.AddChannel(response.NewWebhookChannel("slack", cfg.SlackWebhookURL))
	}
	if cfg.TeamsWebhookURL != "" {
		notifier.AddChannel(response.NewWebhookChannel("teams", cfg.TeamsWebhookURL))
	}
	if cfg.EmailWebhookURL != "" {
		notifier.AddChannel(response.NewWebhookChannel("email", cfg.EmailWebhookURL))
	}

	// Action connectors.
	registry := connector.NewRegistry(log)
	for _, conn := range []connector.ActionConnector{
		connector.NewFirewallConnector(cfg.DefaultStepTimeout),
		connector.NewEDRConnector(cfg.DefaultStepTimeout),
		connector.NewEmailSecurityConnector(cfg.DefaultStepTimeout),
		connector.NewNotificationConnector(notifier, cfg.DefaultStepTimeout),
	} {
		if err := registry.Register(conn); err != nil {
			return fmt.Errorf("register connector: %w", err)
		}
	}
	defer registry.Close()

	// Autonomous defense.
	defenseEngine := defense.NewEngine(registry, defense.NewLogImprover(log), log)

	// Playbooks.
	playbookStore := playbook.NewStore(log)
	if cfg.PlaybookDir != "" {
		if err := playbookStore.LoadDir(cfg.PlaybookDir); err != nil {
			log.Warn("playbook directory not loaded, using built-ins", "error", err)
		}
	}
	executor := playbook.NewExecutor(registry, cfg.DefaultStepTimeout, log)

	// Report pipeline.
	var archiver *response.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = response.NewArchiver(rootCtx, response.ArchiveConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		}, log)
		if err != nil {
			return fmt.Errorf("report archiver: %w", err)
		}
		log.Info("report archiver ready", "bucket", cfg.S3Bucket)
	}

	var publisher *response.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = response.NewPublisher(response.PublisherConfig{
			Brokers:         cfg.KafkaBrokers,
			ReportTopic:     cfg.ReportTopic,
			EscalationTopic: cfg.EscalationTopic,
		}, log)
		if err != nil {
			return fmt.Errorf("report publisher: %w", err)
		}
		defer publisher.Close()
	}

	orchestrator := response.NewOrchestrator(reportStore, archiver, publisher, notifier, log)

	// SOAR engine.
	soarEngine := soar.NewEngine(soar.Config{
		QueueCapacity:     cfg.QueueCapacity,
		DrainInterval:     cfg.DrainInterval,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	}, enricher, scorer, playbookStore, executor, defenseEngine, orchestrator, log)
	soarEngine.SetExecutionStore(execStore)
	soarEngine.SetEventArchive(eventArchive)
	soarEngine.Start(rootCtx)
	defer soarEngine.Stop()

	// SLA escalations.
	escalator := response.NewEscalator(soarEngine, notifier, cfg.EscalationSweepInterval, log)
	orchestrator.SetEscalationLedger(escalator)
	if publisher != nil {
		escalator.AddSink(publisher)
	}
	escalator.Start(rootCtx)
	defer escalator.Stop()

	// Zero trust.
	ztEngine, cleanup, err := buildZeroTrust(rootCtx, cfg, baselines, auditStore, log)
	if err != nil {
		return err
	}
	defer cleanup()
	ztEngine.Start(rootCtx)
	defer ztEngine.Stop()

	// Kafka event ingestion.
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := ingest.NewConsumer(ingest.Config{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    cfg.TelemetryTopic,
			DLQTopic: cfg.TelemetryTopic + ".dlq",
		}, soarEngine, log)
		if err != nil {
			return fmt.Errorf("event consumer: %w", err)
		}
		consumer.Start()
		defer consumer.Stop()
	}

	// SIEM alert intake.
	if cfg.SIEMConfigPath != "" {
		sources, err := siem.LoadSourceConfigs(cfg.SIEMConfigPath)
		if err != nil {
			log.Warn("siem config not loaded, alert intake disabled", "error", err)
		} else {
			siemPoller := siem.NewPoller(soarEngine, log)
			for _, sc := range sources {
				if !sc.Enabled {
					continue
				}
				siemPoller.AddSource(siem.NewHTTPAlertSource(sc), sc.PollInterval)
			}
			siemPoller.Start(rootCtx)
			defer siemPoller.Stop()
		}
	}

	// HTTP API.
	srv := server.New(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.HTTPPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: 30 * time.Second,
	}, soarEngine, ztEngine, intelStore, reportStore, m, log)
	if hc, ok := execStore.(repository.HealthChecker); ok {
		srv.AddHealthCheck(hc)
	}
	if chStore != nil {
		srv.AddHealthCheck(chStore)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("service exited")
	return nil
}

// buildZeroTrust assembles the access evaluation engine with whatever
// backing services are configured. Every dependency degrades to an
// in-process fallback.
func buildZeroTrust(ctx context.Context, cfg *config.Config, baselines *analysis.BaselineRegistry, audit repository.AuditStore, log *logger.Logger) (*zerotrust.Engine, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	policies := zerotrust.NewPolicyStore()
	if cfg.PolicyPath != "" {
		n, err := policies.LoadFile(cfg.PolicyPath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("zero trust policies: %w", err)
		}
		log.Info("zero trust policies loaded", "count", n, "path", cfg.PolicyPath)
	}

	var profiles zerotrust.ProfileProvider = zerotrust.NewStaticProfiles()
	if cfg.LDAPAddr != "" {
		profiles = zerotrust.NewLDAPProfiles(zerotrust.LDAPConfig{
			URL:          cfg.LDAPAddr,
			BindDN:       cfg.LDAPBindDN,
			BindPassword: cfg.LDAPPassword,
			BaseDN:       cfg.LDAPBaseDN,
		}, nil, log)
	}

	var cache zerotrust.TrustCache
	if cfg.RedisDSN != "" {
		opts, err := redis.ParseURL(cfg.RedisDSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("redis dsn: %w", err)
		}
		client := redis.NewClient(opts)
		cleanups = append(cleanups, func() { client.Close() })

		redisCache := zerotrust.NewRedisTrustCache(client, cfg.TrustRefreshInterval)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-memory trust cache", "error", err)
		} else {
			cache = redisCache
			log.Info("redis trust cache ready")
		}
	}

	engine := zerotrust.NewEngine(zerotrust.Config{
		DefaultDecision:      cfg.DefaultDecision,
		TrustRefreshInterval: cfg.TrustRefreshInterval,
		BaselineRefresh:      cfg.BaselineRefresh,
	}, policies, profiles, cache, log)
	engine.SetAuditSink(audit)
	engine.SetBaselineRefresher(baselineRefresher{baselines})

	if cfg.GeoIPDBPath != "" {
		geo, err := zerotrust.NewGeoResolver(cfg.GeoIPDBPath)
		if err != nil {
			if cfg.IsProduction() {
				return nil, cleanup, fmt.Errorf("geoip: %w", err)
			}
			log.Warn("geoip database unavailable", "error", err)
		} else {
			engine.SetGeoResolver(geo)
			cleanups = append(cleanups, func() { geo.Close() })
		}
	}

	return engine, cleanup, nil
}

type baselineRefresher struct {
	registry *analysis.BaselineRegistry
}

func (b baselineRefresher) Retrain() { b.registry.Retrain(0) }
