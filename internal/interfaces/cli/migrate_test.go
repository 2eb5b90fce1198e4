package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/pkg/errors"
)

// stubMigrator replaces the schema tooling for one test and records calls.
func stubMigrator(t *testing.T) *[]string {
	t.Helper()
	saved := schemaMigrator
	t.Cleanup(func() { schemaMigrator = saved })

	var calls []string
	version := uint(1)
	schemaMigrator.up = func(string) error {
		calls = append(calls, "up")
		version = 2
		return nil
	}
	schemaMigrator.down = func(_ string, steps int) error {
		if steps <= 0 {
			return errors.InvalidParam("steps must be positive")
		}
		calls = append(calls, "down")
		version -= uint(steps)
		return nil
	}
	schemaMigrator.force = func(_ string, v int) error {
		calls = append(calls, "force")
		version = uint(v)
		return nil
	}
	schemaMigrator.reset = func(string) error {
		calls = append(calls, "reset")
		return nil
	}
	schemaMigrator.status = func(string) (uint, bool, error) { return version, false, nil }
	return &calls
}

func TestMigrateCmd_UpAndStatus(t *testing.T) {
	calls := stubMigrator(t)

	out, _, err := run(t, "", "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "status: schema at version 1")
	assert.Empty(t, *calls)

	out, _, err = run(t, "", "-o", "json", "migrate", "up")
	require.NoError(t, err)
	var res migrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, migrationResult{Action: "up", Version: 2}, res)
	assert.Equal(t, []string{"up"}, *calls)
}

func TestMigrateCmd_DownAndForce(t *testing.T) {
	calls := stubMigrator(t)

	out, _, err := run(t, "", "migrate", "force", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "version 3")

	out, _, err = run(t, "", "migrate", "down", "--steps", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1")
	assert.Equal(t, []string{"force", "down"}, *calls)

	_, _, err = run(t, "", "migrate", "down", "--steps", "0")
	assert.True(t, errors.IsCode(err, errors.CodeDatabase))

	_, _, err = run(t, "", "migrate", "force", "latest")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestMigrateCmd_ResetNeedsConfirmation(t *testing.T) {
	calls := stubMigrator(t)

	_, _, err := run(t, "", "migrate", "reset")
	require.Error(t, err)
	assert.Empty(t, *calls)

	_, _, err = run(t, "", "migrate", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"reset"}, *calls)
}
