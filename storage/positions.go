package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"transithub.dev/transithub/model"
)

type PositionStore struct {
	db    *sql.DB
	cache *Cache
}

// SaveAll upserts the latest position per (vehicle_id, source). A stop
// id the static tables do not know is nulled rather than rejected;
// vehicles report pseudo stops that never appear in the bundle.
func (s *PositionStore) SaveAll(ctx context.Context, positions []model.VehiclePosition) error {
	for _, batch := range chunked(positions, PositionBatchSize) {
		vehicleIDs := make([]string, len(batch))
		sources := make([]string, len(batch))
		tripIDs := make([]sql.NullString, len(batch))
		stopIDs := make([]sql.NullString, len(batch))
		updatedAts := make([]time.Time, len(batch))
		lats := make([]sql.NullFloat64, len(batch))
		lons := make([]sql.NullFloat64, len(batch))
		bearings := make([]sql.NullFloat64, len(batch))
		data := make([]string, len(batch))

		for i, p := range batch {
			if p.Data == nil {
				return fmt.Errorf("position %s/%s: missing data payload", p.Source, p.VehicleID)
			}
			buf, err := model.MarshalPositionData(p.Data)
			if err != nil {
				return fmt.Errorf("encoding position %s/%s: %w", p.Source, p.VehicleID, err)
			}
			vehicleIDs[i] = p.VehicleID
			sources[i] = string(p.Source)
			if p.TripID != nil {
				tripIDs[i] = sql.NullString{String: p.TripID.String(), Valid: true}
			}
			if p.StopID != nil {
				stopIDs[i] = sql.NullString{String: *p.StopID, Valid: true}
			}
			updatedAts[i] = p.UpdatedAt
			if p.Lat != nil {
				lats[i] = sql.NullFloat64{Float64: *p.Lat, Valid: true}
			}
			if p.Lon != nil {
				lons[i] = sql.NullFloat64{Float64: *p.Lon, Valid: true}
			}
			if p.Bearing != nil {
				bearings[i] = sql.NullFloat64{Float64: float64(*p.Bearing), Valid: true}
			}
			data[i] = string(buf)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO realtime.vehicle_position (vehicle_id, source, trip_id, stop_id,
			                                       updated_at, geom, bearing, data)
			SELECT p.vehicle_id, p.source::source_id, p.trip_id::uuid,
			       CASE WHEN EXISTS (SELECT FROM static.stop st
			                         WHERE st.id = p.stop_id AND st.source = p.source::source_id)
			            THEN p.stop_id END,
			       p.updated_at,
			       CASE WHEN p.lat IS NULL OR p.lon IS NULL THEN NULL
			            ELSE ST_SetSRID(ST_MakePoint(p.lon, p.lat), 4326) END,
			       p.bearing::real, p.data::jsonb
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[],
			            $6::float8[], $7::float8[], $8::float8[], $9::text[])
			     AS p (vehicle_id, source, trip_id, stop_id, updated_at, lat, lon, bearing, data)
			ON CONFLICT (vehicle_id, source) DO UPDATE SET
			    trip_id = excluded.trip_id,
			    stop_id = excluded.stop_id,
			    updated_at = excluded.updated_at,
			    geom = excluded.geom,
			    bearing = excluded.bearing,
			    data = excluded.data`,
			pq.Array(vehicleIDs), pq.Array(sources), pq.Array(tripIDs),
			pq.Array(stopIDs), pq.Array(updatedAts), pq.Array(lats),
			pq.Array(lons), pq.Array(bearings), pq.Array(data))
		if err != nil {
			return fmt.Errorf("upserting positions: %w", err)
		}
	}

	for _, src := range sourcesOf(positions, func(p model.VehiclePosition) model.Source { return p.Source }) {
		s.cache.Invalidate(ctx, CacheKey("positions", src))
	}
	return nil
}

// BySource returns positions updated within the last half hour.
// Vehicles that went quiet longer ago than that are out of service.
func (s *PositionStore) BySource(ctx context.Context, src model.Source) ([]model.VehiclePosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id, trip_id, stop_id, updated_at,
		       ST_Y(geom), ST_X(geom), bearing, data
		FROM realtime.vehicle_position
		WHERE source = $1
		  AND updated_at > now() - interval '30 minutes'
		ORDER BY vehicle_id`,
		string(src))
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	positions := []model.VehiclePosition{}
	for rows.Next() {
		p := model.VehiclePosition{Source: src}
		var tripID sql.NullString
		var stopID sql.NullString
		var lat, lon, bearing sql.NullFloat64
		var data []byte
		if err := rows.Scan(&p.VehicleID, &tripID, &stopID, &p.UpdatedAt,
			&lat, &lon, &bearing, &data); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		if tripID.Valid {
			id, err := uuid.Parse(tripID.String)
			if err != nil {
				return nil, fmt.Errorf("decoding position trip id: %w", err)
			}
			p.TripID = &id
		}
		if stopID.Valid {
			p.StopID = &stopID.String
		}
		if lat.Valid {
			p.Lat = &lat.Float64
		}
		if lon.Valid {
			p.Lon = &lon.Float64
		}
		if bearing.Valid {
			b := float32(bearing.Float64)
			p.Bearing = &b
		}
		if p.Data, err = model.UnmarshalPositionData(data); err != nil {
			return nil, fmt.Errorf("decoding position %s: %w", p.VehicleID, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	return positions, nil
}
