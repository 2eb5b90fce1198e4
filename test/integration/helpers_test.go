//go:build integration

// Package integration runs the API against real PostgreSQL and MinIO
// containers. Run with: go test -tags integration ./test/integration/...
package integration

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/molcore/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/molcore/internal/infrastructure/database/redis"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/molcore/internal/interfaces/http"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
	"github.com/turtacn/molcore/pkg/client"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) (string, func(port string) int) {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	return host, func(port string) int {
		p, err := c.MappedPort(ctx, port)
		require.NoError(t, err)
		return p.Int()
	}
}

func startPostgres(t *testing.T) *pgrepo.RecordRepository {
	t.Helper()
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "molcore",
			"POSTGRES_PASSWORD": "molcore",
			"POSTGRES_DB":       "molcore_it",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	})

	cfg := postgres.PostgresConfig{
		Host: host, Port: port("5432"), Database: "molcore_it",
		Username: "molcore", Password: "molcore", SSLMode: "disable",
	}
	require.NoError(t, postgres.RunMigrations(cfg.DSN()))

	conn, err := postgres.NewConnection(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return pgrepo.NewRecordRepository(conn.Pool(), logging.NewNopLogger(), nil)
}

func startMinIO(t *testing.T) *minio.SDFStore {
	t.Helper()
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "molcore",
			"MINIO_ROOT_PASSWORD": "molcore-secret",
		},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp").WithStartupTimeout(90 * time.Second),
	})

	cfg := &minio.MinIOConfig{
		Endpoint:        host + ":" + strconv.Itoa(port("9000")),
		AccessKeyID:     "molcore",
		SecretAccessKey: "molcore-secret",
		Bucket:          "molcore-it",
	}
	mc, err := minio.NewMinIOClient(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close() })
	return minio.NewSDFStore(minio.NewObjectStorageRepository(mc, logging.NewNopLogger(), nil))
}

type env struct {
	client  *client.MoleculesClient
	records *pgrepo.RecordRepository
	sdf     *minio.SDFStore
}

// newEnv serves the production router backed by PostgreSQL, MinIO and a
// miniredis export lock.
func newEnv(t *testing.T) *env {
	t.Helper()
	logger := logging.NewNopLogger()
	metrics := prometheus.NewNopAppMetrics()

	records := startPostgres(t)
	sdf := startMinIO(t)

	mr := miniredis.RunT(t)
	rc, err := redis.NewClient(&redis.RedisConfig{Mode: "standalone", Addr: mr.Addr()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	cache := redis.NewRedisCache(rc, logger, redis.WithPrefix("molcore-it:"), redis.WithDefaultTTL(time.Minute))

	svc := appmol.NewService(logger, appmol.WithMetrics(metrics), appmol.WithCache(cache))
	pipeline := appmol.NewPipeline(svc, records, logger, appmol.WithDefaultSeed(42))
	exporter := appmol.NewExporter(records, sdf, redis.NewLockFactory(rc, logger), logger)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		MoleculeHandler: handlers.NewMoleculeHandler(svc, logger,
			handlers.WithPipeline(pipeline),
			handlers.WithRecords(records),
			handlers.WithExporter(exporter)),
		HealthHandler: handlers.NewHealthHandler(appmol.Version),
		Logger:        logger,
		Metrics:       metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c, err := client.NewClient(srv.URL)
	require.NoError(t, err)
	return &env{client: c.Molecules(), records: records, sdf: sdf}
}
