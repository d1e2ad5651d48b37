// Package storage persists the shared model to Postgres and serves
// reads through a Redis cache.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"transithub.dev/transithub/model"
)

// Bulk writes go through single-statement unnest upserts; these cap
// the rows per statement so parameter payloads stay reasonable.
const (
	RouteBatchSize    = 1000
	StopBatchSize     = 1000
	TripBatchSize     = 1000
	StopTimeBatchSize = 2500
	PositionBatchSize = 1000
	AlertBatchSize    = 1000
)

// Store aggregates the per-entity stores over one database handle and
// one cache.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	Cache     *Cache
	Sources   *SourceStore
	Routes    *RouteStore
	Stops     *StopStore
	Trips     *TripStore
	Positions *PositionStore
	Alerts    *AlertStore
}

// Open connects to Postgres, applies the schema, and wires the stores
// to the given Redis client.
func Open(databaseURL string, rdb *redis.Client, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return New(db, NewCache(rdb, logger), logger), nil
}

// New builds a Store over an existing handle. The cache's refresh hook
// is pointed back at the static stores here; it cannot be wired at
// cache construction because the stores do not exist yet.
func New(db *sql.DB, cache *Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:        db,
		logger:    logger,
		Cache:     cache,
		Sources:   &SourceStore{db: db},
		Routes:    &RouteStore{db: db, cache: cache},
		Stops:     &StopStore{db: db, cache: cache},
		Trips:     &TripStore{db: db, cache: cache},
		Positions: &PositionStore{db: db, cache: cache},
		Alerts:    &AlertStore{db: db, cache: cache},
	}
	cache.SetRefresh(s.warmStatic)
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// warmStatic repopulates the static cache entries for every source
// straight from the database.
func (s *Store) warmStatic(ctx context.Context) error {
	for _, src := range model.Sources() {
		routes, err := s.Routes.loadBySource(ctx, src)
		if err != nil {
			return fmt.Errorf("warming routes for %s: %w", src, err)
		}
		s.Cache.put(ctx, CacheKey("routes", src), routes, StaticTTL)

		stops, err := s.Stops.loadBySource(ctx, src)
		if err != nil {
			return fmt.Errorf("warming stops for %s: %w", src, err)
		}
		s.Cache.put(ctx, CacheKey("stops", src), stops, StaticTTL)
	}
	return nil
}

// IsFKViolation reports whether err is a Postgres foreign key
// violation (SQLSTATE 23503). Realtime pipelines treat it as a signal
// that static data is stale.
func IsFKViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func chunked[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	return append(chunks, items)
}

func sourcesOf[T any](items []T, src func(T) model.Source) []model.Source {
	seen := map[model.Source]bool{}
	var out []model.Source
	for _, item := range items {
		if s := src(item); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
