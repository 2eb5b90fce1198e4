// Package config defines the configuration tree for molcore services.
// Infrastructure sections reuse the client packages' own config structs so
// a YAML key maps straight onto the struct the client consumes.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/molcore/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/molcore/internal/infrastructure/database/neo4j"
	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	"github.com/turtacn/molcore/internal/infrastructure/database/redis"
	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/internal/infrastructure/search/milvus"
	"github.com/turtacn/molcore/internal/infrastructure/storage/minio"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// HTTPConfig holds HTTP server tunables.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimit is the per-client request rate on /api/v1. Zero disables
	// limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// GRPCConfig holds gRPC server tunables.
type GRPCConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	Port             int  `mapstructure:"port"`
	MaxRecvMsgSize   int  `mapstructure:"max_recv_msg_size"`
	EnableReflection bool `mapstructure:"enable_reflection"`
}

type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// EngineConfig holds chemistry engine defaults.
type EngineConfig struct {
	// Program is written on the second header line of every molblock.
	Program       string `mapstructure:"program"`
	DefaultSeed   int64  `mapstructure:"default_seed"`
	MaxIterations int    `mapstructure:"max_iterations"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	// MaxAtoms rejects larger molecules at parse time and before hydrogen
	// completion.
	MaxAtoms int `mapstructure:"max_atoms"`
	// CacheTTL bounds how long canonical results stay in the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Enabled  bool                    `mapstructure:"enabled"`
	Migrate  bool                    `mapstructure:"migrate"`
	Postgres postgres.PostgresConfig `mapstructure:"postgres"`
}

type CacheConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Redis   redis.RedisConfig `mapstructure:"redis"`
}

type KafkaConfig struct {
	Producer kafka.ProducerConfig `mapstructure:"producer"`
	Consumer kafka.ConsumerConfig `mapstructure:"consumer"`
	// CreateTopics ensures the molcore topics exist at startup.
	CreateTopics bool `mapstructure:"create_topics"`
}

type MessagingConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type StorageConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	MinIO   minio.MinIOConfig `mapstructure:"minio"`
}

type GraphConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Neo4j   neo4j.Neo4jConfig `mapstructure:"neo4j"`
}

// SearchConfig enables record similarity search backed by Milvus. Records
// are looked up in the database, so it needs database.enabled.
type SearchConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Milvus  milvus.Config `mapstructure:"milvus"`
}

type MetricsConfig struct {
	Enabled   bool                       `mapstructure:"enabled"`
	Path      string                     `mapstructure:"path"`
	Collector prometheus.CollectorConfig `mapstructure:"collector"`
}

// AuthConfig guards /api/v1 with Keycloak-issued bearer tokens.
type AuthConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Keycloak keycloak.Config `mapstructure:"keycloak"`
	// ExportRole, when set, is required to trigger batch exports.
	ExportRole string `mapstructure:"export_role"`
}

// WorkerConfig holds ingest worker parameters.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// HealthPort serves /healthz, /readyz and metrics for the worker.
	HealthPort int `mapstructure:"health_port"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Log       logging.LogConfig `mapstructure:"log"`
	Server    ServerConfig      `mapstructure:"server"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Messaging MessagingConfig   `mapstructure:"messaging"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Graph     GraphConfig       `mapstructure:"graph"`
	Search    SearchConfig      `mapstructure:"search"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Worker    WorkerConfig      `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a defaulted Config and returns
// the first problem found. Disabled sections are not checked.
func (c *Config) Validate() error {
	if err := validPort("server.http.port", c.Server.HTTP.Port); err != nil {
		return err
	}
	if c.Server.HTTP.RateLimit < 0 {
		return fmt.Errorf("config: server.http.rate_limit must be >= 0, got %v", c.Server.HTTP.RateLimit)
	}
	if c.Server.GRPC.Enabled {
		if err := validPort("server.grpc.port", c.Server.GRPC.Port); err != nil {
			return err
		}
		if c.Server.GRPC.Port == c.Server.HTTP.Port {
			return fmt.Errorf("config: server.grpc.port must differ from server.http.port")
		}
	}

	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("config: engine.max_attempts must be >= 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("config: engine.max_iterations must be >= 1, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.MaxAtoms < 1 {
		return fmt.Errorf("config: engine.max_atoms must be >= 1, got %d", c.Engine.MaxAtoms)
	}

	if c.Database.Enabled {
		pg := c.Database.Postgres
		if pg.Host == "" {
			return fmt.Errorf("config: database.postgres.host is required")
		}
		if err := validPort("database.postgres.port", pg.Port); err != nil {
			return err
		}
		if pg.Username == "" {
			return fmt.Errorf("config: database.postgres.username is required")
		}
		if pg.Database == "" {
			return fmt.Errorf("config: database.postgres.database is required")
		}
	}

	if c.Cache.Enabled {
		if c.Cache.Redis.Addr == "" && len(c.Cache.Redis.ClusterAddrs) == 0 && len(c.Cache.Redis.SentinelAddrs) == 0 {
			return fmt.Errorf("config: cache.redis needs addr, cluster_addrs or sentinel_addrs")
		}
		if c.Cache.Redis.DB < 0 {
			return fmt.Errorf("config: cache.redis.db must be >= 0, got %d", c.Cache.Redis.DB)
		}
	}

	if c.Messaging.Enabled {
		if err := kafka.ValidateProducerConfig(c.Messaging.Kafka.Producer); err != nil {
			return fmt.Errorf("config: messaging.kafka.producer: %w", err)
		}
		if err := kafka.ValidateConsumerConfig(c.Messaging.Kafka.Consumer); err != nil {
			return fmt.Errorf("config: messaging.kafka.consumer: %w", err)
		}
	}

	if c.Storage.Enabled && c.Storage.MinIO.Endpoint == "" {
		return fmt.Errorf("config: storage.minio.endpoint is required")
	}

	if c.Graph.Enabled && c.Graph.Neo4j.URI == "" {
		return fmt.Errorf("config: graph.neo4j.uri is required")
	}

	if c.Search.Enabled {
		if !c.Database.Enabled {
			return fmt.Errorf("config: search requires database.enabled")
		}
		if err := milvus.ValidateConfig(c.Search.Milvus); err != nil {
			return fmt.Errorf("config: search.milvus: %w", err)
		}
	}

	if c.Auth.Enabled {
		kc := c.Auth.Keycloak
		if kc.BaseURL == "" || kc.Realm == "" || kc.ClientID == "" {
			return fmt.Errorf("config: auth.keycloak needs base_url, realm and client_id")
		}
	}

	if err := validPort("worker.health_port", c.Worker.HealthPort); err != nil {
		return err
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s %d is out of range [1, 65535]", key, port)
	}
	return nil
}
