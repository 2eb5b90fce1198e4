//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
)

// startPostgres launches a PostgreSQL 16 container and returns its config.
func startPostgres(t *testing.T) postgres.PostgresConfig {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "molcore_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return postgres.PostgresConfig{
		Host:     host,
		Port:     port.Int(),
		Database: "molcore_test",
		Username: "test",
		Password: "test",
		SSLMode:  "disable",
	}
}

func connect(t *testing.T, cfg postgres.PostgresConfig) *pgxpool.Pool {
	t.Helper()
	conn, err := postgres.NewConnection(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, conn.HealthCheck(context.Background()))
	return conn.Pool()
}

func TestMigrations_Lifecycle(t *testing.T) {
	cfg := startPostgres(t)
	dsn := cfg.DSN()

	version, dirty, err := postgres.MigrationStatus(dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, postgres.RunMigrations(dsn))
	require.NoError(t, postgres.RunMigrations(dsn), "second run is a no-op")

	version, dirty, err = postgres.MigrationStatus(dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	pool := connect(t, cfg)
	var exists bool
	err = pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'molecule_records')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, postgres.RollbackMigration(dsn, 1))
	err = postgres.RollbackMigration(dsn, 1)
	assert.Error(t, err)

	require.NoError(t, postgres.ForceMigrationVersion(dsn, 1))
	version, _, err = postgres.MigrationStatus(dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, postgres.ForceMigrationVersion(dsn, -1))
	require.NoError(t, postgres.ResetDatabase(dsn))
}

func TestWithTransaction(t *testing.T) {
	pool := connect(t, startPostgres(t))
	ctx := context.Background()

	_, err := pool.Exec(ctx, "CREATE TABLE tx_probe (id INT PRIMARY KEY)")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM tx_probe").Scan(&n))
		return n
	}

	err = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
		_, err := tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (1)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	err = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
		_, err := tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (2)")
		require.NoError(t, err)
		return fmt.Errorf("intentional error for rollback test")
	})
	require.Error(t, err)
	assert.Equal(t, 1, count())

	assert.Panics(t, func() {
		_ = postgres.WithTransaction(ctx, pool, func(tx pgx.Tx, txCtx context.Context) error {
			_, _ = tx.Exec(txCtx, "INSERT INTO tx_probe VALUES (3)")
			panic("intentional panic")
		})
	})
	assert.Equal(t, 1, count())
}
