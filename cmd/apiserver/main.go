// Command apiserver serves the molecule API over HTTP and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/config"
	"github.com/turtacn/molcore/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	grpcserver "github.com/turtacn/molcore/internal/interfaces/grpc"
	"github.com/turtacn/molcore/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/molcore/internal/interfaces/http"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
	"github.com/turtacn/molcore/internal/interfaces/http/middleware"
)

const startupTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logging.SetDefault(logger)

	logger.Info("starting molcore API server",
		logging.String("version", appmol.Version),
		logging.Int("http_port", cfg.Server.HTTP.Port),
		logging.Bool("grpc", cfg.Server.GRPC.Enabled))

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
	infra, err := initInfrastructure(startCtx, cfg, metrics, logger)
	cancelStart()
	if err != nil {
		return err
	}
	defer infra.Close(context.Background())

	svc := appmol.NewService(logger, infra.serviceOptions(cfg, metrics)...)

	// Interface values stay nil unless the backend exists, so handlers report
	// 503 instead of dereferencing a nil pointer.
	var (
		processor   handlers.RecordProcessor
		finder      handlers.RecordFinder
		handlerOpts = []handlers.MoleculeOption{handlers.WithMaxBodySize(cfg.Server.HTTP.MaxBodySize)}
		grpcOpts    []services.Option
	)
	if infra.records != nil {
		pipeline := appmol.NewPipeline(svc, infra.records, logger, infra.pipelineOptions(cfg, metrics)...)
		processor, finder = pipeline, infra.records
		handlerOpts = append(handlerOpts, handlers.WithPipeline(pipeline), handlers.WithRecords(infra.records))

		if infra.sdf != nil {
			var lock appmol.ExportLock
			if infra.locks != nil {
				lock = infra.locks
			}
			exporter := appmol.NewExporter(infra.records, infra.sdf, lock, logger).WithProgram(cfg.Engine.Program)
			handlerOpts = append(handlerOpts, handlers.WithExporter(exporter))
		}
		if infra.index != nil {
			searcher := appmol.NewSearcher(svc, infra.index, infra.records, logger)
			handlerOpts = append(handlerOpts, handlers.WithSearcher(searcher))
			grpcOpts = append(grpcOpts, services.WithSearcher(searcher))
		}
	}
	if infra.graph != nil {
		handlerOpts = append(handlerOpts, handlers.WithGraph(infra.graph))
	}

	routerCfg := httpserver.RouterConfig{
		MoleculeHandler: handlers.NewMoleculeHandler(svc, logger, handlerOpts...),
		HealthHandler:   handlers.NewHealthHandler(appmol.Version, infra.healthCheckers()...),
		CORSOrigins:     cfg.Server.HTTP.CORSOrigins,
		RequestTimeout:  cfg.Server.HTTP.RequestTimeout,
		Logger:          logger,
		Metrics:         metrics,
	}
	if collector != nil {
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	if infra.auth != nil {
		routerCfg.Authenticate = keycloak.Authenticate(infra.auth, logger.Named("auth"))
		if cfg.Auth.ExportRole != "" {
			routerCfg.ExportGuard = keycloak.RequireRole(cfg.Auth.ExportRole)
		}
	}
	if cfg.Server.HTTP.RateLimit > 0 {
		routerCfg.RateLimiter = middleware.NewKeyedLimiter(cfg.Server.HTTP.RateLimit, cfg.Server.HTTP.RateBurst, 0)
	}
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, httpserver.NewRouter(routerCfg), logger.Named("http"))

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		grpcSrv, err = grpcserver.NewServer(cfg.Server.GRPC,
			grpcserver.WithLogger(logger.Named("grpc")),
			grpcserver.WithMetrics(metrics),
			grpcserver.WithGracefulTimeout(cfg.Server.HTTP.ShutdownTimeout))
		if err != nil {
			return err
		}
		grpcSrv.RegisterService(&services.MoleculeServiceDesc,
			services.NewMoleculeService(svc, processor, finder, logger, grpcOpts...))
	}

	if configPath != "" {
		err := config.Watch(configPath, logger.Named("config"), func(next *config.Config) {
			if logging.SetLevel(logger, next.Log.Level) {
				logger.Info("log level updated", logging.String("level", next.Log.Level))
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
		defer cancel()
		var firstErr error
		if err := httpSrv.Stop(shutdownCtx); err != nil {
			firstErr = err
		}
		if grpcSrv != nil {
			if err := grpcSrv.Stop(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", logging.Err(err))
		return err
	}
	logger.Info("molcore API server stopped")
	return nil
}
