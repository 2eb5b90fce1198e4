package http

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/internal/config"
	"github.com/turtacn/molcore/internal/interfaces/http/handlers"
)

func TestServer_ServeAndStop(t *testing.T) {
	cfg := config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second}
	srv := NewServer(cfg, NewRouter(RouterConfig{HealthHandler: handlers.NewHealthHandler("test")}), nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err, "Serve returns nil after a graceful stop")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_Addr(t *testing.T) {
	srv := NewServer(config.HTTPConfig{Host: "127.0.0.1", Port: 8089}, http.NotFoundHandler(), nil)
	assert.Equal(t, "127.0.0.1:8089", srv.srv.Addr)
	assert.NotNil(t, srv.Handler())
}
