package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	pkgerrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

type stubLookup struct {
	mu    sync.Mutex
	calls int
	data  map[string]validation.ConceptInfo
	err   error
}

func (s *stubLookup) Lookup(_ context.Context, id string) (validation.ConceptInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return validation.ConceptInfo{}, false, s.err
	}
	info, ok := s.data[id]
	return info, ok, nil
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) ObserveCacheAccess(_ string, hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

type CacheTestSuite struct {
	suite.Suite
	mock     redismock.ClientMock
	backing  *stubLookup
	observer *countingObserver
	cache    *CachedConceptLookup
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	s.backing = &stubLookup{data: map[string]validation.ConceptInfo{
		"C0018810": {PreferredName: "Heart rate", TypeIDs: []string{"T201"}},
	}}
	s.observer = &countingObserver{}
	s.cache = NewCachedConceptLookup(NewClientFrom(db, logging.NewNopLogger()), s.backing, nil,
		WithPrefix("test:"), WithTTL(time.Hour), WithNullTTL(time.Minute), WithObserver(s.observer))
	s.cache.jitter = func(d time.Duration) time.Duration { return d }
}

func (s *CacheTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func heartRateJSON() string {
	b, _ := json.Marshal(validation.ConceptInfo{PreferredName: "Heart rate", TypeIDs: []string{"T201"}})
	return string(b)
}

func (s *CacheTestSuite) TestLookup_Hit() {
	s.mock.ExpectGet("test:concept:C0018810").SetVal(heartRateJSON())

	info, found, err := s.cache.Lookup(context.Background(), " c0018810 ")
	s.NoError(err)
	s.True(found)
	s.Equal("Heart rate", info.PreferredName)
	s.Equal(0, s.backing.calls)
	s.Equal(1, s.observer.hits)
}

func (s *CacheTestSuite) TestLookup_MissLoadsAndStores() {
	s.mock.ExpectGet("test:concept:C0018810").RedisNil()
	s.mock.ExpectSet("test:concept:C0018810", heartRateJSON(), time.Hour).SetVal("OK")

	info, found, err := s.cache.Lookup(context.Background(), "C0018810")
	s.NoError(err)
	s.True(found)
	s.Equal([]string{"T201"}, info.TypeIDs)
	s.Equal(1, s.backing.calls)
	s.Equal(1, s.observer.misses)
}

func (s *CacheTestSuite) TestLookup_UnknownIsCachedAsNull() {
	s.mock.ExpectGet("test:concept:NOPE").RedisNil()
	s.mock.ExpectSet("test:concept:NOPE", nullMarker, time.Minute).SetVal("OK")

	_, found, err := s.cache.Lookup(context.Background(), "nope")
	s.NoError(err)
	s.False(found)

	s.mock.ExpectGet("test:concept:NOPE").SetVal(nullMarker)
	_, found, err = s.cache.Lookup(context.Background(), "NOPE")
	s.NoError(err)
	s.False(found)
	s.Equal(1, s.backing.calls)
}

func (s *CacheTestSuite) TestLookup_RedisDownFallsBack() {
	s.mock.ExpectGet("test:concept:C0018810").SetErr(errors.New("connection refused"))
	s.mock.ExpectSet("test:concept:C0018810", heartRateJSON(), time.Hour).SetErr(errors.New("connection refused"))

	info, found, err := s.cache.Lookup(context.Background(), "C0018810")
	s.NoError(err)
	s.True(found)
	s.Equal("Heart rate", info.PreferredName)
}

func (s *CacheTestSuite) TestLookup_CorruptEntryReloads() {
	s.mock.ExpectGet("test:concept:C0018810").SetVal("{not json")
	s.mock.ExpectSet("test:concept:C0018810", heartRateJSON(), time.Hour).SetVal("OK")

	_, found, err := s.cache.Lookup(context.Background(), "C0018810")
	s.NoError(err)
	s.True(found)
	s.Equal(1, s.backing.calls)
}

func (s *CacheTestSuite) TestLookup_BackingErrorNotCached() {
	boom := errors.New("db offline")
	s.backing.err = boom
	s.mock.ExpectGet("test:concept:C0018810").RedisNil()

	_, _, err := s.cache.Lookup(context.Background(), "C0018810")
	s.ErrorIs(err, boom)
}

func (s *CacheTestSuite) TestInvalidate() {
	s.mock.ExpectDel("test:concept:C1", "test:concept:C2").SetVal(2)
	s.NoError(s.cache.Invalidate(context.Background(), "c1", "C2"))
	s.NoError(s.cache.Invalidate(context.Background()))

	s.mock.ExpectDel("test:concept:C3").SetErr(errors.New("boom"))
	err := s.cache.Invalidate(context.Background(), "C3")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}

func (s *CacheTestSuite) TestPurge() {
	s.mock.ExpectScan(0, "test:concept:*", 100).SetVal([]string{"test:concept:A", "test:concept:B"}, 7)
	s.mock.ExpectDel("test:concept:A", "test:concept:B").SetVal(2)
	s.mock.ExpectScan(7, "test:concept:*", 100).SetVal([]string{"test:concept:C"}, 0)
	s.mock.ExpectDel("test:concept:C").SetVal(1)

	n, err := s.cache.Purge(context.Background())
	s.NoError(err)
	s.Equal(int64(3), n)
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestJitterTTL(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitterTTL(0))
	for i := 0; i < 50; i++ {
		got := jitterTTL(time.Minute)
		assert.GreaterOrEqual(t, got, 54*time.Second)
		assert.LessOrEqual(t, got, 66*time.Second)
	}
}
