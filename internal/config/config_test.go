package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/config"
)

// validConfig returns a defaulted Config with every optional backend enabled
// and the fields that have no default filled in.
func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Database.Enabled = true
	cfg.Database.Postgres.Username = "molcore"
	cfg.Database.Postgres.Password = "secret"
	cfg.Cache.Enabled = true
	cfg.Messaging.Enabled = true
	cfg.Storage.Enabled = true
	cfg.Graph.Enabled = true
	cfg.Search.Enabled = true
	cfg.Server.GRPC.Enabled = true
	cfg.Auth.Enabled = true
	cfg.Auth.Keycloak.BaseURL = "http://keycloak:8080"
	cfg.Auth.Keycloak.Realm = "molcore"
	cfg.Auth.Keycloak.ClientID = "molcore-api"
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_DefaultsOnly(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	assert.NoError(t, cfg.Validate(), "a defaulted config with no backends must be valid")
}

func TestConfig_Validate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"http port zero", func(c *config.Config) { c.Server.HTTP.Port = 0 }, "server.http.port"},
		{"http port too large", func(c *config.Config) { c.Server.HTTP.Port = 65536 }, "server.http.port"},
		{"grpc port clash", func(c *config.Config) { c.Server.GRPC.Port = c.Server.HTTP.Port }, "must differ"},
		{"negative rate limit", func(c *config.Config) { c.Server.HTTP.RateLimit = -1 }, "server.http.rate_limit"},
		{"grpc port negative", func(c *config.Config) { c.Server.GRPC.Port = -1 }, "server.grpc.port"},
		{"engine attempts", func(c *config.Config) { c.Engine.MaxAttempts = 0 }, "engine.max_attempts"},
		{"engine iterations", func(c *config.Config) { c.Engine.MaxIterations = -5 }, "engine.max_iterations"},
		{"engine atoms", func(c *config.Config) { c.Engine.MaxAtoms = -1 }, "engine.max_atoms"},
		{"postgres host", func(c *config.Config) { c.Database.Postgres.Host = "" }, "database.postgres.host"},
		{"postgres port", func(c *config.Config) { c.Database.Postgres.Port = 70000 }, "database.postgres.port"},
		{"postgres user", func(c *config.Config) { c.Database.Postgres.Username = "" }, "database.postgres.username"},
		{"postgres database", func(c *config.Config) { c.Database.Postgres.Database = "" }, "database.postgres.database"},
		{"redis address", func(c *config.Config) { c.Cache.Redis.Addr = "" }, "cache.redis"},
		{"redis db", func(c *config.Config) { c.Cache.Redis.DB = -1 }, "cache.redis.db"},
		{"kafka producer brokers", func(c *config.Config) { c.Messaging.Kafka.Producer.Brokers = nil }, "messaging.kafka.producer"},
		{"kafka consumer group", func(c *config.Config) { c.Messaging.Kafka.Consumer.GroupID = "" }, "messaging.kafka.consumer"},
		{"kafka offset reset", func(c *config.Config) { c.Messaging.Kafka.Consumer.AutoOffsetReset = "middle" }, "messaging.kafka.consumer"},
		{"minio endpoint", func(c *config.Config) { c.Storage.MinIO.Endpoint = "" }, "storage.minio.endpoint"},
		{"neo4j uri", func(c *config.Config) { c.Graph.Neo4j.URI = "" }, "graph.neo4j.uri"},
		{"milvus address", func(c *config.Config) { c.Search.Milvus.Address = "" }, "search.milvus"},
		{"milvus bits", func(c *config.Config) { c.Search.Milvus.NBits = 1000 }, "search.milvus"},
		{"search without database", func(c *config.Config) { c.Database.Enabled = false }, "search requires database"},
		{"keycloak realm", func(c *config.Config) { c.Auth.Keycloak.Realm = "" }, "auth.keycloak"},
		{"worker concurrency", func(c *config.Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"worker health port", func(c *config.Config) { c.Worker.HealthPort = -1 }, "worker.health_port"},
		{"log level", func(c *config.Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Validate_DisabledSectionsSkipped(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Database.Enabled = false
	cfg.Database.Postgres.Username = ""
	cfg.Storage.Enabled = false
	cfg.Storage.MinIO.Endpoint = ""
	cfg.Graph.Enabled = false
	cfg.Graph.Neo4j.URI = ""
	cfg.Search.Enabled = false
	cfg.Search.Milvus.Address = ""
	cfg.Messaging.Enabled = false
	cfg.Messaging.Kafka.Producer.Brokers = nil
	cfg.Server.GRPC.Enabled = false
	cfg.Server.GRPC.Port = cfg.Server.HTTP.Port
	cfg.Auth.Enabled = false
	cfg.Auth.Keycloak.Realm = ""
	assert.NoError(t, cfg.Validate())
}
