package testutil_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/testutil"
)

var _ logging.Logger = (*testutil.MockLogger)(nil)

func TestMockLogger_Records(t *testing.T) {
	logger := testutil.NewMockLogger()
	logger.Info("parsed", logging.String("smiles", "CCO"))

	msgs := logger.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "info", msgs[0].Level)
	v, ok := msgs[0].Field("smiles")
	assert.True(t, ok)
	assert.Equal(t, "CCO", v)
	_, ok = msgs[0].Field("missing")
	assert.False(t, ok)

	logger.Clear()
	assert.Empty(t, logger.GetMessages())

	logger.Error("embed failed")
	assert.True(t, logger.HasMessage("error", "embed failed"))
	assert.False(t, logger.HasMessage("info", "embed failed"))
}

func TestMockLogger_DerivedLoggersShareSink(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.Named("engine").Named("embed").With(logging.Int("attempt", 2))
	child.Warn("retrying", logging.Int64("seed", 42))

	e, ok := root.Find("warn", "retry")
	require.True(t, ok)
	assert.Equal(t, "engine.embed", e.Logger)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "attempt", e.Fields[0].Key)
	assert.Equal(t, "seed", e.Fields[1].Key)
	assert.Equal(t, 1, root.Count("warn"))
	assert.Zero(t, root.Count("info"))
}

func TestMockLogger_Concurrent(t *testing.T) {
	logger := testutil.NewMockLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.With(logging.Bool("worker", true)).Debug("tick")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, logger.Count("debug"))
}
