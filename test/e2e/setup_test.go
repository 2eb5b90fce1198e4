// Package e2e_test drives the molecule API through the Go client against an
// in-process server built from the production router.
package e2e_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appmol "github.com/turtacn/molcore/internal/application/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/molcore/internal/interfaces/http"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
	"github.com/turtacn/molcore/internal/testutil"
	"github.com/turtacn/molcore/pkg/client"
)

// memoryStore keeps exported SD files by key.
type memoryStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memoryStore) PutSDF(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = append([]byte(nil), data...)
	return "memory/" + key, nil
}

func (s *memoryStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	return data, ok
}

type stack struct {
	client  *client.MoleculesClient
	records *testutil.MemoryRecords
	store   *memoryStore
}

type stackOptions struct {
	withoutStore bool
	seed         int64
}

// newStack serves the full router over httptest. Without a record store the
// stateful routes answer 503, mirroring a server with database.enabled off.
func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	logger := logging.NewNopLogger()
	metrics := prometheus.NewNopAppMetrics()

	svc := appmol.NewService(logger, appmol.WithMetrics(metrics))
	st := &stack{}

	handlerOpts := []handlers.MoleculeOption{}
	if !opts.withoutStore {
		st.records = testutil.NewMemoryRecords()
		st.store = &memoryStore{files: map[string][]byte{}}
		seed := opts.seed
		if seed == 0 {
			seed = 42
		}
		pipeline := appmol.NewPipeline(svc, st.records, logger,
			appmol.WithDefaultSeed(seed),
			appmol.WithPipelineMetrics(metrics))
		exporter := appmol.NewExporter(st.records, st.store, nil, logger).WithProgram("MolcoreE2E")
		handlerOpts = append(handlerOpts,
			handlers.WithPipeline(pipeline),
			handlers.WithRecords(st.records),
			handlers.WithExporter(exporter))
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		MoleculeHandler: handlers.NewMoleculeHandler(svc, logger, handlerOpts...),
		HealthHandler:   handlers.NewHealthHandler(appmol.Version),
		RequestTimeout:  30 * time.Second,
		Logger:          logger,
		Metrics:         metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c, err := client.NewClient(srv.URL, client.WithRetryMax(0))
	require.NoError(t, err)
	st.client = c.Molecules()
	return st
}
