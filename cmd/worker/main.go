// Command worker consumes molecule.ingest jobs and runs each through the
// processing pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/config"
	neo4jdriver "github.com/turtacn/molcore/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/molcore/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/molcore/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/molcore/internal/infrastructure/database/redis"
	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/internal/infrastructure/search/milvus"
	httpserver "github.com/turtacn/molcore/internal/interfaces/http"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
)

const startupTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	workers := flag.Int("workers", 0, "number of concurrent workers (overrides worker.concurrency)")
	flag.Parse()

	if err := run(*configPath, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled || !cfg.Messaging.Enabled {
		return fmt.Errorf("worker needs database.enabled and messaging.enabled")
	}
	if workers > 0 {
		cfg.Messaging.Kafka.Consumer.Concurrency = workers
	}
	consumerCfg := cfg.Messaging.Kafka.Consumer
	consumerCfg.Topics = []string{kafka.TopicMoleculeIngest}
	if consumerCfg.RetryConfig.DeadLetterTopic == "" {
		consumerCfg.RetryConfig.DeadLetterTopic = kafka.TopicMoleculeIngestDLQ
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logging.SetDefault(logger)

	logger.Info("starting molcore worker",
		logging.String("version", appmol.Version),
		logging.Int("workers", consumerCfg.Concurrency),
		logging.String("group", consumerCfg.GroupID))

	metrics := prometheus.NewNopAppMetrics()
	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(cfg.Metrics.Collector, logger.Named("metrics"))
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metrics = prometheus.NewAppMetrics(collector)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(cfg.Database.Postgres.DSN()); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
	}
	pg, err := postgres.NewConnection(startCtx, cfg.Database.Postgres, logger.Named("postgres"))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()
	records := pgrepo.NewRecordRepository(pg.Pool(), logger.Named("records"), metrics)
	checks := []handlers.HealthChecker{handlers.CheckFunc("postgres", pg.HealthCheck)}

	svcOpts := []appmol.Option{
		appmol.WithConfig(appmol.ConfigFromEngine(cfg.Engine)),
		appmol.WithMetrics(metrics),
	}
	if cfg.Cache.Enabled {
		rc, err := redis.NewClient(&cfg.Cache.Redis, logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		svcOpts = append(svcOpts, appmol.WithCache(redis.NewRedisCache(rc, logger.Named("cache"),
			redis.WithPrefix("molcore:"),
			redis.WithDefaultTTL(cfg.Engine.CacheTTL))))
		checks = append(checks, handlers.CheckFunc("redis", rc.Ping))
	}

	producer, err := kafka.NewProducer(cfg.Messaging.Kafka.Producer, "molcore-worker", logger.Named("kafka"))
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer producer.Close()

	pipeOpts := []appmol.PipelineOption{
		appmol.WithDefaultSeed(cfg.Engine.DefaultSeed),
		appmol.WithPipelineMetrics(metrics),
		appmol.WithEventPublisher(producer),
	}
	if cfg.Graph.Enabled {
		d, err := neo4jdriver.NewDriver(startCtx, cfg.Graph.Neo4j, logger.Named("neo4j"))
		if err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
		defer d.Close(context.Background())
		graph := neo4jrepo.NewBreakerGraphRepo(
			neo4jrepo.NewMoleculeGraphRepo(d, logger.Named("graph")),
			neo4jrepo.DefaultBreakerConfig(), logger.Named("graph"))
		pipeOpts = append(pipeOpts, appmol.WithGraphStore(graph))
		checks = append(checks, handlers.CheckFunc("neo4j", d.HealthCheck))
	}
	if cfg.Search.Enabled {
		mc, err := milvus.NewClient(startCtx, cfg.Search.Milvus, logger.Named("milvus"))
		if err != nil {
			return fmt.Errorf("milvus: %w", err)
		}
		defer mc.Close()
		idx, err := milvus.NewFingerprintIndex(startCtx, mc, logger)
		if err != nil {
			return fmt.Errorf("milvus index: %w", err)
		}
		pipeOpts = append(pipeOpts, appmol.WithSimilarityIndex(idx))
		checks = append(checks, handlers.CheckFunc("milvus", mc.CheckHealth))
	}

	pipeline := appmol.NewPipeline(appmol.NewService(logger, svcOpts...), records, logger, pipeOpts...)

	consumer, err := kafka.NewConsumer(consumerCfg, logger.Named("consumer"))
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	handler := newIngestHandler(pipeline, cfg.Worker.JobTimeout, metrics, logger.Named("ingest"))
	if err := consumer.Subscribe(kafka.TopicMoleculeIngest, handler); err != nil {
		return err
	}

	routerCfg := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(appmol.Version, checks...),
		Logger:        logger,
		Metrics:       metrics,
	}
	if collector != nil {
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	healthCfg := cfg.Server.HTTP
	healthCfg.Port = cfg.Worker.HealthPort
	healthSrv := httpserver.NewServer(healthCfg, httpserver.NewRouter(routerCfg), logger.Named("health"))
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger.Error("health server failed", logging.Err(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker started", logging.String("topic", kafka.TopicMoleculeIngest))

	<-ctx.Done()
	logger.Info("shutting down, draining in-flight jobs")

	done := make(chan error, 1)
	go func() { done <- consumer.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("consumer close", logging.Err(err))
		}
	case <-time.After(cfg.Worker.ShutdownTimeout):
		logger.Warn("shutdown timeout exceeded, abandoning in-flight jobs")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", logging.Err(err))
	}

	m := consumer.GetMetrics()
	logger.Info("molcore worker stopped",
		logging.Int64("consumed", m.MessagesConsumed.Load()),
		logging.Int64("processed", m.MessagesProcessed.Load()),
		logging.Int64("failed", m.MessagesFailed.Load()))
	return nil
}
