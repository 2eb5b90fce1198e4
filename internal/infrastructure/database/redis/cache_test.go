package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	molerrors "github.com/turtacn/molcore/pkg/errors"
)

type CacheTestSuite struct {
	suite.Suite
	client *Client
	mock   redismock.ClientMock
	cache  Cache
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	s.client = &Client{rdb: db, config: &RedisConfig{}, logger: logging.NewNopLogger()}
	s.cache = NewRedisCache(s.client, logging.NewNopLogger(), WithPrefix("test:"))
}

func (s *CacheTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *CacheTestSuite) TestGet_Hit() {
	s.mock.ExpectGet("test:canonical:abc").SetVal(`"CCO"`)

	var dest string
	s.Require().NoError(s.cache.Get(context.Background(), "canonical:abc", &dest))
	s.Equal("CCO", dest)
}

func (s *CacheTestSuite) TestGet_Miss() {
	s.mock.ExpectGet("test:k").RedisNil()

	var dest string
	err := s.cache.Get(context.Background(), "k", &dest)
	s.Equal(ErrCacheMiss, err)
	s.True(molerrors.IsCode(err, molerrors.CodeNotFound))
}

func (s *CacheTestSuite) TestGet_NullMarker() {
	s.mock.ExpectGet("test:k").SetVal(nullMarker)

	var dest string
	s.Equal(ErrCacheMiss, s.cache.Get(context.Background(), "k", &dest))
}

func (s *CacheTestSuite) TestGet_BackendError() {
	s.mock.ExpectGet("test:k").SetErr(errors.New("connection refused"))

	var dest string
	err := s.cache.Get(context.Background(), "k", &dest)
	s.True(molerrors.IsCode(err, molerrors.CodeCache))
}

func (s *CacheTestSuite) TestGet_CorruptValue() {
	s.mock.ExpectGet("test:k").SetVal("{not json")

	var dest string
	err := s.cache.Get(context.Background(), "k", &dest)
	s.True(molerrors.IsCode(err, molerrors.CodeSerialization))
}

func (s *CacheTestSuite) TestDelete() {
	s.mock.ExpectDel("test:k1", "test:k2").SetVal(2)
	s.NoError(s.cache.Delete(context.Background(), "k1", "k2"))
	s.NoError(s.cache.Delete(context.Background()))
}

func (s *CacheTestSuite) TestGetOrSet_BackendErrorSkipsLoader() {
	s.mock.ExpectGet("test:k").SetErr(errors.New("timeout"))

	var dest string
	err := s.cache.GetOrSet(context.Background(), "k", &dest, time.Minute, func(context.Context) (interface{}, error) {
		s.Fail("loader must not run when the backend fails")
		return "x", nil
	})
	s.True(molerrors.IsCode(err, molerrors.CodeCache))
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestCache_SetGetWithMiniredis(t *testing.T) {
	client, mr := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger())
	ctx := context.Background()

	type payload struct {
		Canonical string `json:"canonical"`
		Atoms     int    `json:"atoms"`
	}
	require.NoError(t, cache.Set(ctx, "p", payload{"CCO", 3}, time.Minute))

	raw, err := mr.Get("molcore:p")
	require.NoError(t, err)
	var stored payload
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "CCO", stored.Canonical)

	ttl := mr.TTL("molcore:p")
	assert.InDelta(t, float64(time.Minute), float64(ttl), float64(6*time.Second))

	var got payload
	require.NoError(t, cache.Get(ctx, "p", &got))
	assert.Equal(t, payload{"CCO", 3}, got)
}

func TestCache_GetOrSetLoadsOnce(t *testing.T) {
	client, _ := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger())
	ctx := context.Background()

	var loads atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (interface{}, error) {
		loads.Add(1)
		<-release
		return "Oc1ccccc1", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, cache.GetOrSet(ctx, "canonical:x", &results[i], time.Minute, loader))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "Oc1ccccc1", r)
	}
	assert.LessOrEqual(t, loads.Load(), int32(8))

	before := loads.Load()
	var again string
	require.NoError(t, cache.GetOrSet(ctx, "canonical:x", &again, time.Minute, loader))
	assert.Equal(t, before, loads.Load(), "second call is served from redis")
}

func TestCache_GetOrSetNilAndError(t *testing.T) {
	client, mr := newMiniredisClient(t)
	cache := NewRedisCache(client, logging.NewNopLogger(), WithNullCacheTTL(time.Second))
	ctx := context.Background()

	var dest string
	err := cache.GetOrSet(ctx, "none", &dest, time.Minute, func(context.Context) (interface{}, error) { return nil, nil })
	assert.Equal(t, ErrCacheMiss, err)
	assert.True(t, mr.Exists("molcore:none"))

	boom := molerrors.New(molerrors.CodeParse, "bad input")
	err = cache.GetOrSet(ctx, "bad", &dest, time.Minute, func(context.Context) (interface{}, error) { return nil, boom })
	assert.True(t, molerrors.IsCode(err, molerrors.CodeParse))
	assert.False(t, mr.Exists("molcore:bad"), "errors are not cached")
}
