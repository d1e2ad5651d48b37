package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"transithub.dev/transithub/model"
)

type RouteStore struct {
	db    *sql.DB
	cache *Cache
}

// SaveAll upserts routes. A missing geometry never clobbers a stored
// one; route shapes come from a different upstream than the rest of
// the record and can be absent on any given import.
func (s *RouteStore) SaveAll(ctx context.Context, routes []model.Route) error {
	for _, batch := range chunked(routes, RouteBatchSize) {
		ids := make([]string, len(batch))
		sources := make([]string, len(batch))
		longNames := make([]string, len(batch))
		shortNames := make([]string, len(batch))
		colors := make([]string, len(batch))
		geoms := make([][]byte, len(batch))
		data := make([]string, len(batch))

		for i, r := range batch {
			if r.Data == nil {
				return fmt.Errorf("route %s/%s: missing data payload", r.Source, r.ID)
			}
			buf, err := model.MarshalRouteData(r.Data)
			if err != nil {
				return fmt.Errorf("encoding route %s/%s: %w", r.Source, r.ID, err)
			}
			ids[i] = r.ID
			sources[i] = string(r.Source)
			longNames[i] = r.LongName
			shortNames[i] = r.ShortName
			colors[i] = r.Color
			geoms[i] = r.Geom
			data[i] = string(buf)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO static.route (id, source, long_name, short_name, color, geom, data)
			SELECT r.id, r.source::source_id, r.long_name, r.short_name, r.color,
			       ST_Multi(ST_SetSRID(ST_GeomFromWKB(r.geom), 4326)),
			       r.data::jsonb
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::bytea[], $7::text[])
			     AS r (id, source, long_name, short_name, color, geom, data)
			ON CONFLICT (id, source) DO UPDATE SET
			    long_name = excluded.long_name,
			    short_name = excluded.short_name,
			    color = excluded.color,
			    geom = COALESCE(excluded.geom, static.route.geom),
			    data = excluded.data`,
			pq.Array(ids), pq.Array(sources), pq.Array(longNames),
			pq.Array(shortNames), pq.Array(colors), pq.Array(geoms),
			pq.Array(data))
		if err != nil {
			return fmt.Errorf("upserting routes: %w", err)
		}
	}

	for _, src := range sourcesOf(routes, func(r model.Route) model.Source { return r.Source }) {
		s.cache.Invalidate(ctx, CacheKey("routes", src))
	}
	return nil
}

// BySource reads a source's routes through the cache.
func (s *RouteStore) BySource(ctx context.Context, src model.Source) ([]model.Route, error) {
	return Cached(ctx, s.cache, CacheKey("routes", src), StaticTTL,
		func(ctx context.Context) ([]model.Route, error) {
			return s.loadBySource(ctx, src)
		})
}

// All reads every source's routes, cache included.
func (s *RouteStore) All(ctx context.Context) ([]model.Route, error) {
	var out []model.Route
	for _, src := range model.Sources() {
		routes, err := s.BySource(ctx, src)
		if err != nil {
			return nil, err
		}
		out = append(out, routes...)
	}
	return out, nil
}

func (s *RouteStore) loadBySource(ctx context.Context, src model.Source) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, long_name, short_name, color, ST_AsBinary(geom), data
		FROM static.route
		WHERE source = $1
		ORDER BY id`,
		string(src))
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		r := model.Route{Source: src}
		var data []byte
		if err := rows.Scan(&r.ID, &r.LongName, &r.ShortName, &r.Color, &r.Geom, &data); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		if r.Data, err = model.UnmarshalRouteData(data); err != nil {
			return nil, fmt.Errorf("decoding route %s: %w", r.ID, err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	return routes, nil
}
