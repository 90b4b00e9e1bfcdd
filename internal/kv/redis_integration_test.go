//go:build integration

package kv_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"absenbot/internal/kv"
	"absenbot/internal/ledger"
)

type RedisStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	store     *kv.Store
	ctx       context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(url)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
	s.store = kv.New(s.client, "test:")
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(s.ctx).Err())
}

func record(identity string) ledger.Record {
	return ledger.Record{
		ID:        uuid.New(),
		Identity:  identity,
		Method:    ledger.MethodCommand,
		Timestamp: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
	}
}

func (s *RedisStoreSuite) TestAppendAndQuery() {
	s.Require().NoError(s.store.Append(s.ctx, "2025-03-04", record("A")))
	s.Require().NoError(s.store.Append(s.ctx, "2025-03-04", record("B")))
	s.Require().NoError(s.store.Append(s.ctx, "2025-03-06", record("C")))

	day, err := s.store.QueryDay(s.ctx, "2025-03-04")
	s.Require().NoError(err)
	s.Require().Len(day, 2)
	s.Equal("A", day[0].Identity)
	s.Equal("B", day[1].Identity)

	all, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"2025-03-06", "2025-03-04"}, all.Dates())
}

func (s *RedisStoreSuite) TestConcurrentAppends() {
	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Append(s.ctx, "2025-03-04", record(fmt.Sprintf("user-%d", i))))
		}(i)
	}
	wg.Wait()

	day, err := s.store.QueryDay(s.ctx, "2025-03-04")
	s.Require().NoError(err)
	s.Len(day, n)
}

func (s *RedisStoreSuite) TestCorruptEntry() {
	s.Require().NoError(s.client.RPush(s.ctx, "test:day:2025-03-04", "{oops").Err())
	s.Require().NoError(s.client.SAdd(s.ctx, "test:days", "2025-03-04").Err())

	snap, err := s.store.Load(s.ctx)
	s.Require().ErrorIs(err, ledger.ErrCorruptState)
	s.Empty(snap)
}

func (s *RedisStoreSuite) TestDialRejectsBadURL() {
	_, err := kv.Dial(s.ctx, "not-a-url", "x:")
	s.Error(err)
}
