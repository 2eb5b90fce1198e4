package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molcore/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	c, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return c
}

type testLogger struct {
	mu      sync.Mutex
	lastMsg string
	count   int32
}

func (l *testLogger) Debugf(format string, args ...interface{}) { l.log(format, args...) }
func (l *testLogger) Infof(format string, args ...interface{})  { l.log(format, args...) }
func (l *testLogger) Errorf(format string, args ...interface{}) { l.log(format, args...) }

func (l *testLogger) log(format string, args ...interface{}) {
	atomic.AddInt32(&l.count, 1)
	l.mu.Lock()
	l.lastMsg = fmt.Sprintf(format, args...)
	l.mu.Unlock()
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

func TestNewClient_Success(t *testing.T) {
	c, err := NewClient("http://molcore.local:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://molcore.local:8080", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Equal(t, "molcore-go-client/"+Version, c.userAgent)
	assert.Empty(t, c.apiKey)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "no-scheme", "http://[::1"} {
		_, err := NewClient(u)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam), u)
	}
}

func TestClient_Molecules_LazyInit(t *testing.T) {
	c, err := NewClient("http://molcore.local")
	require.NoError(t, err)
	assert.Nil(t, c.molecules)

	var wg sync.WaitGroup
	got := make([]*MoleculesClient, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = c.Molecules()
		}(i)
	}
	wg.Wait()
	for _, m := range got {
		assert.Same(t, got[0], m)
	}
}

// ---------------------------------------------------------------------------
// do
// ---------------------------------------------------------------------------

func TestClient_Do_UnwrapsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"output":"CCO","format":"smiles"},"request_id":"r1"}`)
	})
	var out struct {
		Output string `json:"output"`
	}
	require.NoError(t, c.get(context.Background(), "test", &out))
	assert.Equal(t, "CCO", out.Output)
}

func TestClient_Do_RequestHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "molcore-go-client/"+Version, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusOK)
	}, WithAPIKey("secret"))
	require.NoError(t, c.post(context.Background(), "/x", map[string]string{"a": "b"}, nil))
}

func TestClient_Do_NoAuthHeaderWithoutKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.get(context.Background(), "/x", nil))
}

func TestClient_Do_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusBadRequest,
			`{"success":false,"error":{"code":"CHEM_PARSE","message":"unclosed branch"},"request_id":"req-1"}`)
	})
	err := c.get(context.Background(), "/x", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "CHEM_PARSE", apiErr.Code)
	assert.Equal(t, "unclosed branch", apiErr.Message)
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Contains(t, apiErr.Error(), "CHEM_PARSE")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_Do_ServerErrorRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, `{"success":false,"error":{"code":"COMMON_UNAVAILABLE","message":"busy"}}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":"ok"}`)
	})
	var out string
	require.NoError(t, c.get(context.Background(), "/x", &out))
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_Do_RetriesExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithRetryMax(2))
	err := c.get(context.Background(), "/x", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_Do_RateLimitedHonoursRetryAfter(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeEnvelope(w, http.StatusTooManyRequests, `{"success":false,"error":{"code":"COMMON_RATE_LIMITED","message":"slow down"}}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.get(context.Background(), "/x", nil))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_Do_RateLimitedWithoutRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := c.get(context.Background(), "/x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
}

func TestClient_Do_ContextCancelledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetryWait(time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.get(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Do_NetworkErrorRetried(t *testing.T) {
	logger := &testLogger{}
	c, err := NewClient("http://127.0.0.1:1",
		WithRetryMax(1),
		WithRetryWait(time.Millisecond, time.Millisecond),
		WithLogger(logger))
	require.NoError(t, err)

	err = c.get(context.Background(), "/x", nil)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&logger.count), int32(2))
}

func TestClient_Do_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{not json`)
	})
	var out string
	err := c.get(context.Background(), "/x", &out)
	assert.True(t, errors.IsCode(err, errors.CodeSerialization))
}

func TestClient_CalculateBackoff(t *testing.T) {
	c := &Client{retryWaitMin: 100 * time.Millisecond, retryWaitMax: 300 * time.Millisecond}
	for attempt, base := range map[int]time.Duration{1: 100, 2: 200, 3: 300, 6: 300} {
		b := c.calculateBackoff(attempt)
		assert.GreaterOrEqual(t, b, base*time.Millisecond)
		assert.Less(t, b, base*time.Millisecond*5/4+time.Millisecond)
	}

	tiny := &Client{retryWaitMin: 1, retryWaitMax: 1}
	assert.Equal(t, time.Duration(1), tiny.calculateBackoff(1))
}
