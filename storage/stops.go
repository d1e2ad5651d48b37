package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"transithub.dev/transithub/model"
)

// The subway transfers file still references the decommissioned South
// Ferry loop station.
const bogusTransferStop = "140"

type StopStore struct {
	db    *sql.DB
	cache *Cache
}

func (s *StopStore) SaveAll(ctx context.Context, stops []model.Stop) error {
	for _, batch := range chunked(stops, StopBatchSize) {
		ids := make([]string, len(batch))
		sources := make([]string, len(batch))
		names := make([]string, len(batch))
		lats := make([]float64, len(batch))
		lons := make([]float64, len(batch))
		data := make([]string, len(batch))

		for i, st := range batch {
			if st.Data == nil {
				return fmt.Errorf("stop %s/%s: missing data payload", st.Source, st.ID)
			}
			buf, err := model.MarshalStopData(st.Data)
			if err != nil {
				return fmt.Errorf("encoding stop %s/%s: %w", st.Source, st.ID, err)
			}
			ids[i] = st.ID
			sources[i] = string(st.Source)
			names[i] = st.Name
			lats[i] = st.Lat
			lons[i] = st.Lon
			data[i] = string(buf)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO static.stop (id, source, name, geom, data)
			SELECT st.id, st.source::source_id, st.name,
			       ST_SetSRID(ST_MakePoint(st.lon, st.lat), 4326),
			       st.data::jsonb
			FROM unnest($1::text[], $2::text[], $3::text[], $4::float8[], $5::float8[], $6::text[])
			     AS st (id, source, name, lat, lon, data)
			ON CONFLICT (id, source) DO UPDATE SET
			    name = excluded.name,
			    geom = excluded.geom,
			    data = excluded.data`,
			pq.Array(ids), pq.Array(sources), pq.Array(names),
			pq.Array(lats), pq.Array(lons), pq.Array(data))
		if err != nil {
			return fmt.Errorf("upserting stops: %w", err)
		}
	}

	for _, src := range sourcesOf(stops, func(st model.Stop) model.Source { return st.Source }) {
		s.cache.Invalidate(ctx, CacheKey("stops", src))
	}
	return nil
}

// SaveRouteStops upserts route/stop membership rows. Rows naming a
// route or stop the static tables do not have are silently skipped;
// the membership feed comes from a separate upstream and routinely
// runs ahead of the GTFS bundle.
func (s *StopStore) SaveRouteStops(ctx context.Context, routeStops []model.RouteStop) error {
	for _, batch := range chunked(routeStops, StopBatchSize) {
		routeIDs := make([]string, len(batch))
		sources := make([]string, len(batch))
		stopIDs := make([]string, len(batch))
		sequences := make([]int64, len(batch))
		data := make([]string, len(batch))

		for i, rs := range batch {
			if rs.Data == nil {
				return fmt.Errorf("route stop %s/%s/%s: missing data payload", rs.Source, rs.RouteID, rs.StopID)
			}
			buf, err := model.MarshalRouteStopData(rs.Data)
			if err != nil {
				return fmt.Errorf("encoding route stop %s/%s/%s: %w", rs.Source, rs.RouteID, rs.StopID, err)
			}
			routeIDs[i] = rs.RouteID
			sources[i] = string(rs.Source)
			stopIDs[i] = rs.StopID
			sequences[i] = int64(rs.StopSequence)
			data[i] = string(buf)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO static.route_stop (route_id, source, stop_id, stop_sequence, data)
			SELECT rs.route_id, rs.source::source_id, rs.stop_id, rs.stop_sequence, rs.data::jsonb
			FROM unnest($1::text[], $2::text[], $3::text[], $4::integer[], $5::text[])
			     AS rs (route_id, source, stop_id, stop_sequence, data)
			WHERE EXISTS (SELECT FROM static.route r WHERE r.id = rs.route_id AND r.source = rs.source::source_id)
			  AND EXISTS (SELECT FROM static.stop st WHERE st.id = rs.stop_id AND st.source = rs.source::source_id)
			ON CONFLICT (route_id, source, stop_id) DO UPDATE SET
			    stop_sequence = excluded.stop_sequence,
			    data = excluded.data`,
			pq.Array(routeIDs), pq.Array(sources), pq.Array(stopIDs),
			pq.Array(sequences), pq.Array(data))
		if err != nil {
			return fmt.Errorf("upserting route stops: %w", err)
		}
	}

	for _, src := range sourcesOf(routeStops, func(rs model.RouteStop) model.Source { return rs.Source }) {
		s.cache.Invalidate(ctx, CacheKey("stops", src))
	}
	return nil
}

// SaveTransfers upserts transfers, dropping self-pairs and pairs
// touching the known-bogus stop.
func (s *StopStore) SaveTransfers(ctx context.Context, transfers []model.StopTransfer) error {
	kept := make([]model.StopTransfer, 0, len(transfers))
	for _, t := range transfers {
		if t.FromStopID == t.ToStopID && t.FromSource == t.ToSource {
			continue
		}
		if t.FromStopID == bogusTransferStop || t.ToStopID == bogusTransferStop {
			continue
		}
		kept = append(kept, t)
	}

	for _, batch := range chunked(kept, StopBatchSize) {
		fromIDs := make([]string, len(batch))
		fromSources := make([]string, len(batch))
		toIDs := make([]string, len(batch))
		toSources := make([]string, len(batch))
		types := make([]int64, len(batch))
		minTimes := make([]sql.NullInt64, len(batch))

		for i, t := range batch {
			fromIDs[i] = t.FromStopID
			fromSources[i] = string(t.FromSource)
			toIDs[i] = t.ToStopID
			toSources[i] = string(t.ToSource)
			types[i] = int64(t.TransferType)
			if t.MinTransferTime != nil {
				minTimes[i] = sql.NullInt64{Int64: int64(*t.MinTransferTime), Valid: true}
			}
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO static.stop_transfer (from_stop_id, from_source, to_stop_id, to_source, transfer_type, min_transfer_time)
			SELECT t.from_stop_id, t.from_source::source_id, t.to_stop_id, t.to_source::source_id,
			       t.transfer_type, t.min_transfer_time
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::integer[], $6::integer[])
			     AS t (from_stop_id, from_source, to_stop_id, to_source, transfer_type, min_transfer_time)
			WHERE EXISTS (SELECT FROM static.stop st WHERE st.id = t.from_stop_id AND st.source = t.from_source::source_id)
			  AND EXISTS (SELECT FROM static.stop st WHERE st.id = t.to_stop_id AND st.source = t.to_source::source_id)
			ON CONFLICT (from_stop_id, from_source, to_stop_id, to_source) DO UPDATE SET
			    transfer_type = excluded.transfer_type,
			    min_transfer_time = excluded.min_transfer_time`,
			pq.Array(fromIDs), pq.Array(fromSources), pq.Array(toIDs),
			pq.Array(toSources), pq.Array(types), pq.Array(minTimes))
		if err != nil {
			return fmt.Errorf("upserting transfers: %w", err)
		}
	}

	for _, src := range sourcesOf(kept, func(t model.StopTransfer) model.Source { return t.FromSource }) {
		s.cache.Invalidate(ctx, CacheKey("stops", src))
	}
	return nil
}

// BySource reads a source's stops through the cache, transfer and
// route membership included.
func (s *StopStore) BySource(ctx context.Context, src model.Source) ([]model.Stop, error) {
	return Cached(ctx, s.cache, CacheKey("stops", src), StaticTTL,
		func(ctx context.Context) ([]model.Stop, error) {
			return s.loadBySource(ctx, src)
		})
}

// All reads every source's stops, cache included.
func (s *StopStore) All(ctx context.Context) ([]model.Stop, error) {
	var out []model.Stop
	for _, src := range model.Sources() {
		stops, err := s.BySource(ctx, src)
		if err != nil {
			return nil, err
		}
		out = append(out, stops...)
	}
	return out, nil
}

func (s *StopStore) loadBySource(ctx context.Context, src model.Source) ([]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, ST_Y(s.geom), ST_X(s.geom), s.data,
		       COALESCE(t.transfers, '{}'), COALESCE(r.routes, '{}')
		FROM static.stop s
		LEFT JOIN (
		    SELECT from_stop_id AS stop_id, from_source AS source,
		           array_agg(to_stop_id ORDER BY to_stop_id) AS transfers
		    FROM static.stop_transfer
		    GROUP BY 1, 2
		) t ON t.stop_id = s.id AND t.source = s.source
		LEFT JOIN (
		    SELECT stop_id, source,
		           array_agg(DISTINCT route_id) AS routes
		    FROM static.route_stop
		    GROUP BY 1, 2
		) r ON r.stop_id = s.id AND r.source = s.source
		WHERE s.source = $1
		ORDER BY s.id`,
		string(src))
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		st := model.Stop{Source: src}
		var data []byte
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &data,
			pq.Array(&st.Transfers), pq.Array(&st.Routes)); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		if st.Data, err = model.UnmarshalStopData(data); err != nil {
			return nil, fmt.Errorf("decoding stop %s: %w", st.ID, err)
		}
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading stops: %w", err)
	}
	return stops, nil
}
