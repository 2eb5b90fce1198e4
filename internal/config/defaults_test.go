package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/molcore/internal/infrastructure/messaging/kafka"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultHTTPHost, cfg.Server.HTTP.Host)
	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTP.Port)
	assert.Equal(t, DefaultGRPCPort, cfg.Server.GRPC.Port)
	assert.Equal(t, int64(10<<20), cfg.Server.HTTP.MaxBodySize)
	assert.Zero(t, cfg.Server.HTTP.RateLimit, "rate limiting is off unless configured")
	assert.Zero(t, cfg.Server.HTTP.RateBurst)

	assert.Equal(t, DefaultEngineProgram, cfg.Engine.Program)
	assert.Equal(t, int64(DefaultEngineSeed), cfg.Engine.DefaultSeed)
	assert.Equal(t, DefaultEngineMaxIterations, cfg.Engine.MaxIterations)
	assert.Equal(t, DefaultEngineMaxAtoms, cfg.Engine.MaxAtoms)
	assert.Equal(t, DefaultEngineMaxAttempts, cfg.Engine.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Engine.CacheTTL)

	assert.Equal(t, DefaultDBHost, cfg.Database.Postgres.Host)
	assert.Equal(t, DefaultDBPort, cfg.Database.Postgres.Port)
	assert.Equal(t, DefaultDBName, cfg.Database.Postgres.Database)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)

	assert.Equal(t, DefaultRedisAddr, cfg.Cache.Redis.Addr)
	assert.Equal(t, DefaultMinIOEndpoint, cfg.Storage.MinIO.Endpoint)
	assert.Equal(t, DefaultNeo4jURI, cfg.Graph.Neo4j.URI)
	assert.Equal(t, DefaultMilvusAddress, cfg.Search.Milvus.Address)
	assert.Equal(t, DefaultMilvusCollection, cfg.Search.Milvus.Collection)
	assert.Equal(t, 2048, cfg.Search.Milvus.NBits)
	assert.Equal(t, 2, cfg.Search.Milvus.Radius)

	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, DefaultMetricsNamespace, cfg.Metrics.Collector.Namespace)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, DefaultWorkerConcurrency, cfg.Worker.Concurrency)
	assert.Equal(t, DefaultWorkerHealthPort, cfg.Worker.HealthPort)
	assert.Equal(t, 5*time.Minute, cfg.Auth.Keycloak.JWKSRefreshInterval)
}

func TestApplyDefaults_Kafka(t *testing.T) {
	cfg := &Config{}
	cfg.Messaging.Kafka.Producer.Brokers = []string{"k1:9092", "k2:9092"}
	cfg.Worker.Concurrency = 8
	ApplyDefaults(cfg)

	c := cfg.Messaging.Kafka.Consumer
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Brokers, "consumer inherits producer brokers")
	assert.Equal(t, DefaultKafkaGroupID, c.GroupID)
	assert.Equal(t, []string{kafka.TopicMoleculeIngest}, c.Topics)
	assert.Equal(t, kafka.TopicMoleculeIngestDLQ, c.RetryConfig.DeadLetterTopic)
	assert.Equal(t, "earliest", c.AutoOffsetReset)
	assert.Equal(t, 8, c.Concurrency)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HTTP.Port = 9999
	cfg.Engine.DefaultSeed = 7
	cfg.Cache.Redis.ClusterAddrs = []string{"r1:7000"}
	cfg.Log.Format = "console"
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.HTTP.Port)
	assert.Equal(t, int64(7), cfg.Engine.DefaultSeed)
	assert.Empty(t, cfg.Cache.Redis.Addr, "cluster mode keeps addr empty")
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestApplyDefaults_RateBurstFollowsRate(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HTTP.RateLimit = 50
	ApplyDefaults(cfg)
	assert.Equal(t, 100, cfg.Server.HTTP.RateBurst)

	cfg = &Config{}
	cfg.Server.HTTP.RateLimit = 0.2
	ApplyDefaults(cfg)
	assert.Equal(t, 1, cfg.Server.HTTP.RateBurst)
}
