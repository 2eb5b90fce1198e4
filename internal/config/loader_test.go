package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
)

const validConfigYAML = `
log:
  level: debug
  format: console
server:
  http:
    host: "127.0.0.1"
    port: 8081
    read_timeout: 5s
  grpc:
    enabled: true
    port: 9091
engine:
  program: "molcore-test"
  default_seed: 1234
  max_attempts: 3
database:
  enabled: true
  migrate: true
  postgres:
    host: "db"
    port: 5433
    database: "molcore"
    username: "molcore"
    password: "secret"
cache:
  enabled: true
  redis:
    addr: "redis:6379"
messaging:
  enabled: true
  kafka:
    producer:
      brokers: ["kafka:9092"]
    consumer:
      group_id: "workers"
storage:
  enabled: true
  minio:
    endpoint: "minio:9000"
    bucket: "exports"
graph:
  enabled: false
worker:
  concurrency: 2
  job_timeout: 30s
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.HTTP.Host)
	assert.Equal(t, 8081, cfg.Server.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.HTTP.ReadTimeout)
	assert.True(t, cfg.Server.GRPC.Enabled)
	assert.Equal(t, "molcore-test", cfg.Engine.Program)
	assert.Equal(t, int64(1234), cfg.Engine.DefaultSeed)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, DefaultEngineMaxIterations, cfg.Engine.MaxIterations)
	assert.Equal(t, 5433, cfg.Database.Postgres.Port)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Messaging.Kafka.Consumer.Brokers)
	assert.Equal(t, "workers", cfg.Messaging.Kafka.Consumer.GroupID)
	assert.Equal(t, 2, cfg.Messaging.Kafka.Consumer.Concurrency)
	assert.Equal(t, "exports", cfg.Storage.MinIO.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_FromFile_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_FromFile_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "log: ["))
	require.Error(t, err)
}

func TestLoad_FromFile_ValidationFailure(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "worker:\n  concurrency: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_EnvOverride(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	t.Setenv("MOLCORE_SERVER_HTTP_PORT", "9999")
	t.Setenv("MOLCORE_DATABASE_POSTGRES_HOST", "db-host")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTP.Port)
	assert.Equal(t, "db-host", cfg.Database.Postgres.Host)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MOLCORE_ENGINE_DEFAULT_SEED", "99")
	t.Setenv("MOLCORE_LOG_LEVEL", "warn")
	t.Setenv("MOLCORE_STORAGE_MINIO_BUCKET", "env-bucket")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Engine.DefaultSeed)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "env-bucket", cfg.Storage.MinIO.Bucket)
	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTP.Port)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestWatch_Reload(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)

	changed := make(chan *Config, 4)
	require.NoError(t, Watch(path, logging.NewNopLogger(), func(c *Config) { changed <- c }))

	updated := validConfigYAML + "\nmetrics:\n  path: /internal/metrics\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, "/internal/metrics", c.Metrics.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
