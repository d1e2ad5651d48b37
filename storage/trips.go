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

type TripStore struct {
	db    *sql.DB
	cache *Cache
}

// SaveAll upserts trips keyed on (source, original_id, vehicle_id,
// created_at, direction) and returns the proposed-to-actual id
// mapping. When a trip's natural key already exists the database keeps
// its row id and the caller must rewrite any references that used the
// proposed one.
func (s *TripStore) SaveAll(ctx context.Context, trips []model.Trip) (map[uuid.UUID]uuid.UUID, error) {
	idMap := make(map[uuid.UUID]uuid.UUID, len(trips))
	if len(trips) == 0 {
		return idMap, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, batch := range chunked(trips, TripBatchSize) {
		ids := make([]string, len(batch))
		sources := make([]string, len(batch))
		originalIDs := make([]string, len(batch))
		vehicleIDs := make([]string, len(batch))
		routeIDs := make([]string, len(batch))
		directions := make([]sql.NullInt64, len(batch))
		createdAts := make([]time.Time, len(batch))
		updatedAts := make([]time.Time, len(batch))
		data := make([]string, len(batch))

		for i, t := range batch {
			if t.Data == nil {
				return nil, fmt.Errorf("trip %s/%s: missing data payload", t.Source, t.OriginalID)
			}
			buf, err := model.MarshalTripData(t.Data)
			if err != nil {
				return nil, fmt.Errorf("encoding trip %s/%s: %w", t.Source, t.OriginalID, err)
			}
			ids[i] = t.ID.String()
			sources[i] = string(t.Source)
			originalIDs[i] = t.OriginalID
			vehicleIDs[i] = t.VehicleID
			routeIDs[i] = t.RouteID
			if t.Direction != nil {
				directions[i] = sql.NullInt64{Int64: int64(*t.Direction), Valid: true}
			}
			createdAts[i] = t.CreatedAt
			updatedAts[i] = t.UpdatedAt
			data[i] = string(buf)
		}

		rows, err := tx.QueryContext(ctx, `
			WITH input AS (
			    SELECT t.id::uuid AS id, t.source::source_id AS source, t.original_id,
			           t.vehicle_id, t.route_id, t.direction::smallint AS direction,
			           t.created_at, t.updated_at, t.data::jsonb AS data
			    FROM unnest($1::uuid[], $2::text[], $3::text[], $4::text[], $5::text[],
			                $6::smallint[], $7::timestamptz[], $8::timestamptz[], $9::text[])
			         AS t (id, source, original_id, vehicle_id, route_id, direction,
			               created_at, updated_at, data)
			), upserted AS (
			    INSERT INTO realtime.trip (id, source, original_id, vehicle_id, route_id,
			                               direction, created_at, updated_at, data)
			    SELECT id, source, original_id, vehicle_id, route_id,
			           direction, created_at, updated_at, data
			    FROM input
			    ON CONFLICT (source, original_id, vehicle_id, created_at, (COALESCE(direction, -1)))
			    DO UPDATE SET
			        route_id = excluded.route_id,
			        updated_at = excluded.updated_at,
			        data = excluded.data
			    RETURNING id, source, original_id, vehicle_id, created_at, direction
			)
			SELECT input.id, upserted.id
			FROM input
			JOIN upserted ON upserted.source = input.source
			    AND upserted.original_id = input.original_id
			    AND upserted.vehicle_id = input.vehicle_id
			    AND upserted.created_at = input.created_at
			    AND upserted.direction IS NOT DISTINCT FROM input.direction`,
			pq.Array(ids), pq.Array(sources), pq.Array(originalIDs),
			pq.Array(vehicleIDs), pq.Array(routeIDs), pq.Array(directions),
			pq.Array(createdAts), pq.Array(updatedAts), pq.Array(data))
		if err != nil {
			return nil, fmt.Errorf("upserting trips: %w", err)
		}

		for rows.Next() {
			var proposed, actual uuid.UUID
			if err := rows.Scan(&proposed, &actual); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning trip id map: %w", err)
			}
			idMap[proposed] = actual
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reading trip id map: %w", err)
		}
		rows.Close()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing trips: %w", err)
	}

	for _, src := range sourcesOf(trips, func(t model.Trip) model.Source { return t.Source }) {
		s.cache.Invalidate(ctx, CacheKey("trips", src))
	}
	return idMap, nil
}

// SaveStopTimes upserts predictions. Trip ids must already be the
// actual ids returned by SaveAll.
func (s *TripStore) SaveStopTimes(ctx context.Context, stopTimes []model.StopTime) error {
	for _, batch := range chunked(stopTimes, StopTimeBatchSize) {
		tripIDs := make([]string, len(batch))
		sources := make([]string, len(batch))
		stopIDs := make([]string, len(batch))
		arrivals := make([]time.Time, len(batch))
		departures := make([]time.Time, len(batch))
		data := make([]string, len(batch))

		for i, st := range batch {
			if st.Data == nil {
				return fmt.Errorf("stop time %s/%s: missing data payload", st.TripID, st.StopID)
			}
			buf, err := model.MarshalStopTimeData(st.Data)
			if err != nil {
				return fmt.Errorf("encoding stop time %s/%s: %w", st.TripID, st.StopID, err)
			}
			tripIDs[i] = st.TripID.String()
			sources[i] = string(st.Source)
			stopIDs[i] = st.StopID
			arrivals[i] = st.Arrival
			departures[i] = st.Departure
			data[i] = string(buf)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO realtime.stop_time (trip_id, source, stop_id, arrival, departure, data)
			SELECT st.trip_id::uuid, st.source::source_id, st.stop_id,
			       st.arrival, st.departure, st.data::jsonb
			FROM unnest($1::uuid[], $2::text[], $3::text[], $4::timestamptz[], $5::timestamptz[], $6::text[])
			     AS st (trip_id, source, stop_id, arrival, departure, data)
			ON CONFLICT (trip_id, stop_id) DO UPDATE SET
			    arrival = excluded.arrival,
			    departure = excluded.departure,
			    data = excluded.data`,
			pq.Array(tripIDs), pq.Array(sources), pq.Array(stopIDs),
			pq.Array(arrivals), pq.Array(departures), pq.Array(data))
		if err != nil {
			return fmt.Errorf("upserting stop times: %w", err)
		}
	}

	for _, src := range sourcesOf(stopTimes, func(st model.StopTime) model.Source { return st.Source }) {
		s.cache.Invalidate(ctx, CacheKey("stop_times", src))
	}
	return nil
}

// Active returns trips underway at the reference time. A trip counts
// as finished once its last prediction's departure has passed; those
// only come back when includeFinished is set. The scan window is
// bounded to a day so the table's history does not leak into every
// read.
func (s *TripStore) Active(ctx context.Context, src model.Source, at time.Time, includeFinished bool) ([]model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.original_id, t.vehicle_id, t.route_id, t.direction,
		       t.created_at, t.updated_at, t.data
		FROM realtime.trip t
		WHERE t.source = $1
		  AND t.created_at <= $2
		  AND t.created_at > $2 - interval '1 day'
		  AND ($3 OR EXISTS (
		        SELECT FROM realtime.stop_time st
		        WHERE st.trip_id = t.id AND st.departure >= $2))
		ORDER BY t.created_at, t.id`,
		string(src), at, includeFinished)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []model.Trip{}
	for rows.Next() {
		t := model.Trip{Source: src}
		var direction sql.NullInt64
		var data []byte
		if err := rows.Scan(&t.ID, &t.OriginalID, &t.VehicleID, &t.RouteID,
			&direction, &t.CreatedAt, &t.UpdatedAt, &data); err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		if direction.Valid {
			d := int16(direction.Int64)
			t.Direction = &d
		}
		if t.Data, err = model.UnmarshalTripData(data); err != nil {
			return nil, fmt.Errorf("decoding trip %s: %w", t.OriginalID, err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading trips: %w", err)
	}
	return trips, nil
}

// StopTimes returns predictions around the reference time, optionally
// restricted to routes and to arrivals that have not yet happened.
func (s *TripStore) StopTimes(ctx context.Context, src model.Source, routeIDs []string, at time.Time, futureArrivalsOnly bool) ([]model.StopTime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.trip_id, st.stop_id, st.arrival, st.departure, st.data
		FROM realtime.stop_time st
		JOIN realtime.trip t ON t.id = st.trip_id
		WHERE st.source = $1
		  AND st.arrival > $2 - interval '1 day'
		  AND st.arrival < $2 + interval '1 day'
		  AND (cardinality($3::text[]) = 0 OR t.route_id = ANY ($3))
		  AND (NOT $4 OR st.arrival >= $2)
		ORDER BY st.arrival, st.trip_id`,
		string(src), at, pq.Array(routeIDs), futureArrivalsOnly)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	stopTimes := []model.StopTime{}
	for rows.Next() {
		st := model.StopTime{Source: src}
		var data []byte
		if err := rows.Scan(&st.TripID, &st.StopID, &st.Arrival, &st.Departure, &data); err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		if st.Data, err = model.UnmarshalStopTimeData(data); err != nil {
			return nil, fmt.Errorf("decoding stop time %s/%s: %w", st.TripID, st.StopID, err)
		}
		stopTimes = append(stopTimes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading stop times: %w", err)
	}
	return stopTimes, nil
}
