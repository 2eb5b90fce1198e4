package config

import (
	"time"

	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultHTTPHost = "0.0.0.0"
	DefaultHTTPPort = 8080
	DefaultGRPCPort = 9090

	DefaultEngineProgram       = "molcore"
	DefaultEngineSeed          = 42
	DefaultEngineMaxIterations = 2000
	DefaultEngineMaxAttempts   = 10
	DefaultEngineMaxAtoms      = 10000

	DefaultDBHost = "localhost"
	DefaultDBPort = 5432
	DefaultDBName = "molcore"

	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "molcore-worker"

	DefaultMinIOEndpoint = "localhost:9000"

	DefaultNeo4jURI = "bolt://localhost:7687"

	DefaultMilvusAddress    = "localhost:19530"
	DefaultMilvusCollection = "molcore_fingerprints"
	DefaultMilvusNList      = 1024
	DefaultMilvusNProbe     = 16

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "molcore"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 4
	DefaultWorkerHealthPort  = 8081
)

// ApplyDefaults fills every zero-value field in cfg with its default.
// Explicitly configured values always win. It must run after unmarshalling
// and before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	h := &cfg.Server.HTTP
	if h.Host == "" {
		h.Host = DefaultHTTPHost
	}
	if h.Port == 0 {
		h.Port = DefaultHTTPPort
	}
	if h.ReadTimeout == 0 {
		h.ReadTimeout = 15 * time.Second
	}
	if h.WriteTimeout == 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
	if h.RequestTimeout == 0 {
		h.RequestTimeout = 60 * time.Second
	}
	if h.MaxBodySize == 0 {
		h.MaxBodySize = 10 << 20
	}
	if h.RateLimit > 0 && h.RateBurst == 0 {
		h.RateBurst = int(h.RateLimit) * 2
		if h.RateBurst < 1 {
			h.RateBurst = 1
		}
	}
	if cfg.Server.GRPC.Port == 0 {
		cfg.Server.GRPC.Port = DefaultGRPCPort
	}
	if cfg.Server.GRPC.MaxRecvMsgSize == 0 {
		cfg.Server.GRPC.MaxRecvMsgSize = 16 << 20
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	e := &cfg.Engine
	if e.Program == "" {
		e.Program = DefaultEngineProgram
	}
	if e.DefaultSeed == 0 {
		e.DefaultSeed = DefaultEngineSeed
	}
	if e.MaxIterations == 0 {
		e.MaxIterations = DefaultEngineMaxIterations
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = DefaultEngineMaxAttempts
	}
	if e.MaxAtoms == 0 {
		e.MaxAtoms = DefaultEngineMaxAtoms
	}
	if e.CacheTTL == 0 {
		e.CacheTTL = time.Hour
	}

	// ── Database ──────────────────────────────────────────────────────────────
	pg := &cfg.Database.Postgres
	if pg.Host == "" {
		pg.Host = DefaultDBHost
	}
	if pg.Port == 0 {
		pg.Port = DefaultDBPort
	}
	if pg.Database == "" {
		pg.Database = DefaultDBName
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	// redis.DB 0 is both the default and a valid explicit value.
	if cfg.Cache.Redis.Addr == "" && len(cfg.Cache.Redis.ClusterAddrs) == 0 && len(cfg.Cache.Redis.SentinelAddrs) == 0 {
		cfg.Cache.Redis.Addr = DefaultRedisAddr
	}

	// ── Messaging ─────────────────────────────────────────────────────────────
	k := &cfg.Messaging.Kafka
	if len(k.Producer.Brokers) == 0 {
		k.Producer.Brokers = []string{DefaultKafkaBroker}
	}
	if len(k.Consumer.Brokers) == 0 {
		k.Consumer.Brokers = k.Producer.Brokers
	}
	if k.Consumer.GroupID == "" {
		k.Consumer.GroupID = DefaultKafkaGroupID
	}
	if len(k.Consumer.Topics) == 0 {
		k.Consumer.Topics = []string{kafka.TopicMoleculeIngest}
	}
	if k.Consumer.AutoOffsetReset == "" {
		k.Consumer.AutoOffsetReset = "earliest"
	}
	if k.Consumer.RetryConfig.DeadLetterTopic == "" {
		k.Consumer.RetryConfig.DeadLetterTopic = kafka.TopicMoleculeIngestDLQ
	}

	// ── Storage / Graph ───────────────────────────────────────────────────────
	if cfg.Storage.MinIO.Endpoint == "" {
		cfg.Storage.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.Graph.Neo4j.URI == "" {
		cfg.Graph.Neo4j.URI = DefaultNeo4jURI
	}

	// ── Search ────────────────────────────────────────────────────────────────
	mv := &cfg.Search.Milvus
	if mv.Address == "" {
		mv.Address = DefaultMilvusAddress
	}
	if mv.Collection == "" {
		mv.Collection = DefaultMilvusCollection
	}
	if mv.Radius == 0 {
		mv.Radius = moltypes.DefaultFingerprintRadius
	}
	if mv.NBits == 0 {
		mv.NBits = moltypes.DefaultFingerprintBits
	}
	if mv.NList == 0 {
		mv.NList = DefaultMilvusNList
	}
	if mv.NProbe == 0 {
		mv.NProbe = DefaultMilvusNProbe
	}
	if mv.ConnectTimeout == 0 {
		mv.ConnectTimeout = 10 * time.Second
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Collector.Namespace == "" {
		cfg.Metrics.Collector.Namespace = DefaultMetricsNamespace
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	if cfg.Auth.Keycloak.JWKSRefreshInterval == 0 {
		cfg.Auth.Keycloak.JWKSRefreshInterval = 5 * time.Minute
	}
	if cfg.Auth.Keycloak.RequestTimeout == 0 {
		cfg.Auth.Keycloak.RequestTimeout = 10 * time.Second
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = 2 * time.Minute
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = DefaultWorkerHealthPort
	}
	if k.Consumer.Concurrency == 0 {
		k.Consumer.Concurrency = cfg.Worker.Concurrency
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
