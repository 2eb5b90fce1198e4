package main

import (
	"context"
	"fmt"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/config"
	"github.com/turtacn/molcore/internal/infrastructure/auth/keycloak"
	neo4jdriver "github.com/turtacn/molcore/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/molcore/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/molcore/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/molcore/internal/infrastructure/database/redis"
	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/internal/infrastructure/search/milvus"
	"github.com/turtacn/molcore/internal/infrastructure/storage/minio"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
)

// infrastructure holds the optional backing services. A nil field means the
// section is disabled in config.
type infrastructure struct {
	pg       *postgres.Connection
	records  *pgrepo.RecordRepository
	redis    *redis.Client
	cache    redis.Cache
	locks    *redis.LockFactory
	minio    *minio.MinIOClient
	sdf      *minio.SDFStore
	neo4j    *neo4jdriver.Driver
	graph    *neo4jrepo.BreakerGraphRepo
	milvus   *milvus.Client
	index    *milvus.FingerprintIndex
	producer *kafka.Producer
	auth     *keycloak.Verifier

	logger logging.Logger
}

func initInfrastructure(ctx context.Context, cfg *config.Config, metrics *prometheus.AppMetrics, logger logging.Logger) (*infrastructure, error) {
	infra := &infrastructure{logger: logger}

	if cfg.Database.Enabled {
		if cfg.Database.Migrate {
			if err := postgres.RunMigrations(cfg.Database.Postgres.DSN()); err != nil {
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		pg, err := postgres.NewConnection(ctx, cfg.Database.Postgres, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.pg = pg
		infra.records = pgrepo.NewRecordRepository(pg.Pool(), logger.Named("records"), metrics)
	}

	if cfg.Cache.Enabled {
		rc, err := redis.NewClient(&cfg.Cache.Redis, logger.Named("redis"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.redis = rc
		infra.cache = redis.NewRedisCache(rc, logger.Named("cache"),
			redis.WithPrefix("molcore:"),
			redis.WithDefaultTTL(cfg.Engine.CacheTTL))
		infra.locks = redis.NewLockFactory(rc, logger.Named("lock"))
	}

	if cfg.Storage.Enabled {
		mc, err := minio.NewMinIOClient(ctx, &cfg.Storage.MinIO, logger.Named("minio"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.minio = mc
		infra.sdf = minio.NewSDFStore(minio.NewObjectStorageRepository(mc, logger.Named("minio"), metrics))
	}

	if cfg.Graph.Enabled {
		d, err := neo4jdriver.NewDriver(ctx, cfg.Graph.Neo4j, logger.Named("neo4j"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		infra.neo4j = d
		infra.graph = neo4jrepo.NewBreakerGraphRepo(
			neo4jrepo.NewMoleculeGraphRepo(d, logger.Named("graph")),
			neo4jrepo.DefaultBreakerConfig(), logger.Named("graph"))
	}

	if cfg.Search.Enabled {
		mc, err := milvus.NewClient(ctx, cfg.Search.Milvus, logger.Named("milvus"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("milvus: %w", err)
		}
		infra.milvus = mc
		idx, err := milvus.NewFingerprintIndex(ctx, mc, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("milvus index: %w", err)
		}
		infra.index = idx
	}

	if cfg.Messaging.Enabled {
		if cfg.Messaging.Kafka.CreateTopics {
			if err := ensureTopics(ctx, cfg.Messaging.Kafka.Producer.Brokers, logger); err != nil {
				infra.Close(ctx)
				return nil, err
			}
		}
		p, err := kafka.NewProducer(cfg.Messaging.Kafka.Producer, "molcore-apiserver", logger.Named("kafka"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		infra.producer = p
	}

	if cfg.Auth.Enabled {
		v, err := keycloak.NewVerifier(ctx, cfg.Auth.Keycloak, logger.Named("auth"))
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("keycloak: %w", err)
		}
		infra.auth = v
	}

	return infra, nil
}

func ensureTopics(ctx context.Context, brokers []string, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(brokers, logger.Named("kafka"))
	if err != nil {
		return fmt.Errorf("kafka topics: %w", err)
	}
	defer tm.Close()
	if err := tm.EnsureDefaultTopics(ctx); err != nil {
		return fmt.Errorf("kafka topics: %w", err)
	}
	return nil
}

// serviceOptions wires the cache into the engine service when enabled.
func (i *infrastructure) serviceOptions(cfg *config.Config, metrics *prometheus.AppMetrics) []appmol.Option {
	opts := []appmol.Option{
		appmol.WithConfig(appmol.ConfigFromEngine(cfg.Engine)),
		appmol.WithMetrics(metrics),
	}
	if i.cache != nil {
		opts = append(opts, appmol.WithCache(i.cache))
	}
	return opts
}

// pipelineOptions attaches the graph mirror, similarity index and event
// publisher when enabled.
func (i *infrastructure) pipelineOptions(cfg *config.Config, metrics *prometheus.AppMetrics) []appmol.PipelineOption {
	opts := []appmol.PipelineOption{
		appmol.WithDefaultSeed(cfg.Engine.DefaultSeed),
		appmol.WithPipelineMetrics(metrics),
	}
	if i.graph != nil {
		opts = append(opts, appmol.WithGraphStore(i.graph))
	}
	if i.index != nil {
		opts = append(opts, appmol.WithSimilarityIndex(i.index))
	}
	if i.producer != nil {
		opts = append(opts, appmol.WithEventPublisher(i.producer))
	}
	return opts
}

// healthCheckers returns one readiness check per enabled backend.
func (i *infrastructure) healthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if i.pg != nil {
		checks = append(checks, handlers.CheckFunc("postgres", i.pg.HealthCheck))
	}
	if i.redis != nil {
		checks = append(checks, handlers.CheckFunc("redis", i.redis.Ping))
	}
	if i.minio != nil {
		checks = append(checks, handlers.CheckFunc("minio", func(ctx context.Context) error {
			_, err := i.minio.HealthCheck(ctx)
			return err
		}))
	}
	if i.neo4j != nil {
		checks = append(checks, handlers.CheckFunc("neo4j", i.neo4j.HealthCheck))
	}
	if i.milvus != nil {
		checks = append(checks, handlers.CheckFunc("milvus", i.milvus.CheckHealth))
	}
	if i.auth != nil {
		checks = append(checks, handlers.CheckFunc("keycloak", i.auth.Health))
	}
	return checks
}

// Close releases everything that was opened, in reverse order.
func (i *infrastructure) Close(ctx context.Context) {
	if i.auth != nil {
		i.auth.Close()
	}
	if i.producer != nil {
		if err := i.producer.Close(); err != nil {
			i.logger.Warn("kafka producer close", logging.Err(err))
		}
	}
	if i.milvus != nil {
		if err := i.milvus.Close(); err != nil {
			i.logger.Warn("milvus close", logging.Err(err))
		}
	}
	if i.neo4j != nil {
		if err := i.neo4j.Close(ctx); err != nil {
			i.logger.Warn("neo4j close", logging.Err(err))
		}
	}
	if i.minio != nil {
		_ = i.minio.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			i.logger.Warn("redis close", logging.Err(err))
		}
	}
	if i.pg != nil {
		i.pg.Close()
	}
}
