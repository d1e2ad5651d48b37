package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transithub.dev/transithub/model"
)

// fakeRedis is an in-memory stand-in for the redis client, enough for
// the cache's Get/Set/Del usage.
type fakeRedis struct {
	data      map[string]string
	wrongType map[string]bool
	dels      []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, wrongType: map[string]bool{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.wrongType[key] {
		return redis.NewStringResult("",
			errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
		delete(f.wrongType, k)
		f.dels = append(f.dels, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func cacheWithFake(fake *fakeRedis) *Cache {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Cache{rdb: fake, logger: logger}
}

func TestIsFKViolation(t *testing.T) {
	assert.True(t, IsFKViolation(&pq.Error{Code: "23503"}))
	assert.True(t, IsFKViolation(fmt.Errorf("saving trips: %w", &pq.Error{Code: "23503"})))
	assert.False(t, IsFKViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsFKViolation(errors.New("connection refused")))
	assert.False(t, IsFKViolation(nil))
}

func TestChunked(t *testing.T) {
	assert.Nil(t, chunked([]int(nil), 3))
	assert.Equal(t, [][]int{{1, 2}}, chunked([]int{1, 2}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}}, chunked([]int{1, 2, 3}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}, {4}}, chunked([]int{1, 2, 3, 4}, 3))
	assert.Equal(t, [][]int{{1}, {2}, {3}}, chunked([]int{1, 2, 3}, 1))
}

func TestSourcesOf(t *testing.T) {
	trips := []model.Trip{
		{Source: model.SourceMtaSubway},
		{Source: model.SourceMtaBus},
		{Source: model.SourceMtaSubway},
	}
	srcs := sourcesOf(trips, func(t model.Trip) model.Source { return t.Source })
	assert.Equal(t, []model.Source{model.SourceMtaSubway, model.SourceMtaBus}, srcs)

	assert.Nil(t, sourcesOf(nil, func(t model.Trip) model.Source { return t.Source }))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "routes:mta_subway", CacheKey("routes", model.SourceMtaSubway))
	assert.Equal(t, "positions:mta_bus", CacheKey("positions", model.SourceMtaBus))
}

func TestCachedWithoutRedisFallsThrough(t *testing.T) {
	calls := 0
	load := func(ctx context.Context) ([]model.Route, error) {
		calls++
		return []model.Route{{ID: "1", Source: model.SourceMtaSubway}}, nil
	}

	// A nil cache (or a cache without a client) always hits the loader.
	routes, err := Cached(context.Background(), nil, "routes:mta_subway", StaticTTL, load)
	require.NoError(t, err)
	assert.Len(t, routes, 1)

	routes, err = Cached(context.Background(), NewCache(nil, nil), "routes:mta_subway", StaticTTL, load)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	assert.Equal(t, 2, calls)
}

func TestCachedPropagatesLoadError(t *testing.T) {
	boom := errors.New("db down")
	_, err := Cached(context.Background(), nil, "k", StaticTTL,
		func(ctx context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCachedRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	c := cacheWithFake(fake)

	loads := 0
	load := func(ctx context.Context) ([]model.Route, error) {
		loads++
		return []model.Route{{ID: "1", Source: model.SourceMtaSubway}}, nil
	}

	first, err := Cached(context.Background(), c, "routes:mta_subway", StaticTTL, load)
	require.NoError(t, err)
	second, err := Cached(context.Background(), c, "routes:mta_subway", StaticTTL, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loads)
}

func TestCachedRecoversUndecodableEntry(t *testing.T) {
	fake := newFakeRedis()
	fake.data["routes:mta_subway"] = `"something else entirely"`

	c := cacheWithFake(fake)
	refreshes := 0
	c.SetRefresh(func(ctx context.Context) error {
		refreshes++
		return nil
	})

	loads := 0
	routes, err := Cached(context.Background(), c, "routes:mta_subway", StaticTTL,
		func(ctx context.Context) ([]model.Route, error) {
			loads++
			return []model.Route{{ID: "1", Source: model.SourceMtaSubway}}, nil
		})
	require.NoError(t, err)
	assert.Len(t, routes, 1)

	// The foreign entry was dropped once, the refresh hook ran once,
	// and the retried read loaded from the database and re-cached.
	assert.Equal(t, []string{"routes:mta_subway"}, fake.dels)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, loads)
	assert.Contains(t, fake.data, "routes:mta_subway")
}

func TestCachedRecoversWrongTypeEntry(t *testing.T) {
	fake := newFakeRedis()
	fake.wrongType["positions:mta_bus"] = true

	c := cacheWithFake(fake)
	loads := 0
	positions, err := Cached(context.Background(), c, "positions:mta_bus", RealtimeTTL,
		func(ctx context.Context) ([]model.VehiclePosition, error) {
			loads++
			return []model.VehiclePosition{{VehicleID: "8865", Source: model.SourceMtaBus}}, nil
		})
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Equal(t, []string{"positions:mta_bus"}, fake.dels)
	assert.Equal(t, 1, loads)
}

func TestCachedRecoversAtMostOncePerRead(t *testing.T) {
	fake := newFakeRedis()
	fake.data["routes:mta_subway"] = `{`

	c := cacheWithFake(fake)
	refreshes := 0
	// A refresh that re-poisons the key must not loop the read.
	c.SetRefresh(func(ctx context.Context) error {
		refreshes++
		fake.data["routes:mta_subway"] = `{`
		return nil
	})

	loads := 0
	routes, err := Cached(context.Background(), c, "routes:mta_subway", StaticTTL,
		func(ctx context.Context) ([]model.Route, error) {
			loads++
			return []model.Route{{ID: "1", Source: model.SourceMtaSubway}}, nil
		})
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, loads)
	assert.Len(t, fake.dels, 1)
}

func TestIsWrongType(t *testing.T) {
	assert.True(t, isWrongType(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
	assert.False(t, isWrongType(errors.New("connection refused")))
	assert.False(t, isWrongType(nil))
}
