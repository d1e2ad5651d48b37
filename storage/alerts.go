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

type AlertStore struct {
	db    *sql.DB
	cache *Cache
}

// AlertBatch is one feed cycle's worth of alerts for a source, child
// rows keyed by the alerts' proposed ids. Cloned lists the original
// ids superseded by clone alerts in the batch; their prior rows are
// removed wholesale.
type AlertBatch struct {
	Alerts       []model.Alert
	Translations []model.AlertTranslation
	Periods      []model.ActivePeriod
	Entities     []model.AffectedEntity
	Cloned       []string
}

// AlertRecord is an alert with its child rows, as served by the API.
type AlertRecord struct {
	model.Alert
	Translations []model.AlertTranslation `json:"translations"`
	Periods      []model.ActivePeriod     `json:"active_periods"`
	Entities     []model.AffectedEntity   `json:"affected_entities"`
}

// SaveAll applies a feed cycle in one transaction: superseded alerts
// go first, then the alert upsert keyed on (created_at, original_id,
// source), then child rows rewritten to the database's alert ids.
// Open active periods that the feed no longer carries are closed at
// now rather than deleted, so an alert's history survives the feed
// trimming it.
func (s *AlertStore) SaveAll(ctx context.Context, src model.Source, batch AlertBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if len(batch.Cloned) > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM realtime.alert
			WHERE source = $1 AND original_id = ANY ($2)`,
			string(src), pq.Array(batch.Cloned))
		if err != nil {
			return fmt.Errorf("deleting superseded alerts: %w", err)
		}
	}

	idMap, err := s.upsertAlerts(ctx, tx, src, batch.Alerts)
	if err != nil {
		return err
	}

	if err := s.upsertTranslations(ctx, tx, idMap, batch.Translations); err != nil {
		return err
	}
	if err := s.upsertPeriods(ctx, tx, idMap, batch.Periods); err != nil {
		return err
	}
	if err := s.expirePeriods(ctx, tx, idMap, batch.Periods); err != nil {
		return err
	}
	if err := s.replaceEntities(ctx, tx, src, idMap, batch.Entities); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing alerts: %w", err)
	}

	s.cache.Invalidate(ctx, CacheKey("alerts", src))
	return nil
}

func (s *AlertStore) upsertAlerts(ctx context.Context, tx *sql.Tx, src model.Source, alerts []model.Alert) (map[uuid.UUID]uuid.UUID, error) {
	idMap := make(map[uuid.UUID]uuid.UUID, len(alerts))

	for _, batch := range chunked(alerts, AlertBatchSize) {
		ids := make([]string, len(batch))
		originalIDs := make([]string, len(batch))
		createdAts := make([]time.Time, len(batch))
		updatedAts := make([]time.Time, len(batch))
		recordedAts := make([]time.Time, len(batch))
		data := make([]string, len(batch))

		for i, a := range batch {
			buf, err := model.MarshalAlertData(a.Data)
			if err != nil {
				return nil, fmt.Errorf("encoding alert %s: %w", a.OriginalID, err)
			}
			ids[i] = a.ID.String()
			originalIDs[i] = a.OriginalID
			createdAts[i] = a.CreatedAt
			updatedAts[i] = a.UpdatedAt
			recordedAts[i] = a.RecordedAt
			data[i] = string(buf)
		}

		rows, err := tx.QueryContext(ctx, `
			WITH input AS (
			    SELECT a.id::uuid AS id, a.original_id, a.created_at,
			           a.updated_at, a.recorded_at, a.data::jsonb AS data
			    FROM unnest($2::uuid[], $3::text[], $4::timestamptz[],
			                $5::timestamptz[], $6::timestamptz[], $7::text[])
			         AS a (id, original_id, created_at, updated_at, recorded_at, data)
			), upserted AS (
			    INSERT INTO realtime.alert (id, original_id, source, created_at,
			                                updated_at, recorded_at, data)
			    SELECT id, original_id, $1::source_id, created_at,
			           updated_at, recorded_at, data
			    FROM input
			    ON CONFLICT (created_at, original_id, source) DO UPDATE SET
			        updated_at = excluded.updated_at,
			        recorded_at = excluded.recorded_at,
			        data = excluded.data
			    RETURNING id, created_at, original_id
			)
			SELECT input.id, upserted.id
			FROM input
			JOIN upserted USING (created_at, original_id)`,
			string(src), pq.Array(ids), pq.Array(originalIDs),
			pq.Array(createdAts), pq.Array(updatedAts), pq.Array(recordedAts),
			pq.Array(data))
		if err != nil {
			return nil, fmt.Errorf("upserting alerts: %w", err)
		}

		for rows.Next() {
			var proposed, actual uuid.UUID
			if err := rows.Scan(&proposed, &actual); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning alert id map: %w", err)
			}
			idMap[proposed] = actual
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reading alert id map: %w", err)
		}
		rows.Close()
	}
	return idMap, nil
}

func mappedAlertID(idMap map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	actual, ok := idMap[id]
	if !ok {
		return uuid.UUID{}, fmt.Errorf("alert id %s not in batch", id)
	}
	return actual, nil
}

func (s *AlertStore) upsertTranslations(ctx context.Context, tx *sql.Tx, idMap map[uuid.UUID]uuid.UUID, translations []model.AlertTranslation) error {
	for _, batch := range chunked(translations, AlertBatchSize) {
		alertIDs := make([]string, len(batch))
		sections := make([]string, len(batch))
		formats := make([]string, len(batch))
		languages := make([]string, len(batch))
		texts := make([]string, len(batch))

		for i, t := range batch {
			id, err := mappedAlertID(idMap, t.AlertID)
			if err != nil {
				return fmt.Errorf("translation: %w", err)
			}
			alertIDs[i] = id.String()
			sections[i] = string(t.Section)
			formats[i] = string(t.Format)
			languages[i] = t.Language
			texts[i] = t.Text
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO realtime.alert_translation (alert_id, section, format, language, text)
			SELECT t.alert_id::uuid, t.section::alert_section, t.format::alert_format,
			       t.language, t.text
			FROM unnest($1::uuid[], $2::text[], $3::text[], $4::text[], $5::text[])
			     AS t (alert_id, section, format, language, text)
			ON CONFLICT (alert_id, section, format, language) DO UPDATE SET
			    text = excluded.text`,
			pq.Array(alertIDs), pq.Array(sections), pq.Array(formats),
			pq.Array(languages), pq.Array(texts))
		if err != nil {
			return fmt.Errorf("upserting translations: %w", err)
		}
	}
	return nil
}

func (s *AlertStore) upsertPeriods(ctx context.Context, tx *sql.Tx, idMap map[uuid.UUID]uuid.UUID, periods []model.ActivePeriod) error {
	for _, batch := range chunked(periods, AlertBatchSize) {
		alertIDs := make([]string, len(batch))
		startTimes := make([]time.Time, len(batch))
		endTimes := make([]sql.NullTime, len(batch))

		for i, p := range batch {
			id, err := mappedAlertID(idMap, p.AlertID)
			if err != nil {
				return fmt.Errorf("active period: %w", err)
			}
			alertIDs[i] = id.String()
			startTimes[i] = p.StartTime
			if p.EndTime != nil {
				endTimes[i] = sql.NullTime{Time: *p.EndTime, Valid: true}
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO realtime.active_period (alert_id, start_time, end_time)
			SELECT p.alert_id::uuid, p.start_time, p.end_time
			FROM unnest($1::uuid[], $2::timestamptz[], $3::timestamptz[])
			     AS p (alert_id, start_time, end_time)
			ON CONFLICT (alert_id, start_time) DO UPDATE SET
			    end_time = excluded.end_time`,
			pq.Array(alertIDs), pq.Array(startTimes), pq.Array(endTimes))
		if err != nil {
			return fmt.Errorf("upserting active periods: %w", err)
		}
	}
	return nil
}

// expirePeriods closes open periods on batch alerts that the feed no
// longer lists. The feed dropping a window means it ended; when it
// ended is unknowable, so now is recorded.
func (s *AlertStore) expirePeriods(ctx context.Context, tx *sql.Tx, idMap map[uuid.UUID]uuid.UUID, periods []model.ActivePeriod) error {
	if len(idMap) == 0 {
		return nil
	}

	batchAlertIDs := make([]string, 0, len(idMap))
	for _, actual := range idMap {
		batchAlertIDs = append(batchAlertIDs, actual.String())
	}

	keepAlertIDs := make([]string, 0, len(periods))
	keepStarts := make([]time.Time, 0, len(periods))
	for _, p := range periods {
		actual, err := mappedAlertID(idMap, p.AlertID)
		if err != nil {
			return fmt.Errorf("active period: %w", err)
		}
		keepAlertIDs = append(keepAlertIDs, actual.String())
		keepStarts = append(keepStarts, p.StartTime)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE realtime.active_period ap
		SET end_time = now()
		WHERE ap.alert_id = ANY ($1::uuid[])
		  AND ap.end_time IS NULL
		  AND NOT EXISTS (
		        SELECT FROM unnest($2::uuid[], $3::timestamptz[]) AS keep (alert_id, start_time)
		        WHERE keep.alert_id = ap.alert_id AND keep.start_time = ap.start_time)`,
		pq.Array(batchAlertIDs), pq.Array(keepAlertIDs), pq.Array(keepStarts))
	if err != nil {
		return fmt.Errorf("expiring active periods: %w", err)
	}
	return nil
}

// replaceEntities swaps each batch alert's affected entities for the
// feed's current set. Entities pointing at routes or stops the static
// tables do not have are dropped; the alerts feed references planned
// and historical infrastructure freely.
func (s *AlertStore) replaceEntities(ctx context.Context, tx *sql.Tx, src model.Source, idMap map[uuid.UUID]uuid.UUID, entities []model.AffectedEntity) error {
	if len(idMap) == 0 {
		return nil
	}

	batchAlertIDs := make([]string, 0, len(idMap))
	for _, actual := range idMap {
		batchAlertIDs = append(batchAlertIDs, actual.String())
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM realtime.affected_entity
		WHERE alert_id = ANY ($1::uuid[])`,
		pq.Array(batchAlertIDs)); err != nil {
		return fmt.Errorf("clearing affected entities: %w", err)
	}

	for _, batch := range chunked(entities, AlertBatchSize) {
		alertIDs := make([]string, len(batch))
		routeIDs := make([]sql.NullString, len(batch))
		stopIDs := make([]sql.NullString, len(batch))
		sortOrders := make([]int64, len(batch))

		for i, e := range batch {
			id, err := mappedAlertID(idMap, e.AlertID)
			if err != nil {
				return fmt.Errorf("affected entity: %w", err)
			}
			alertIDs[i] = id.String()
			if e.RouteID != nil {
				routeIDs[i] = sql.NullString{String: *e.RouteID, Valid: true}
			}
			if e.StopID != nil {
				stopIDs[i] = sql.NullString{String: *e.StopID, Valid: true}
			}
			sortOrders[i] = int64(e.SortOrder)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO realtime.affected_entity (alert_id, route_id, source, stop_id, sort_order)
			SELECT e.alert_id::uuid, e.route_id, $1::source_id, e.stop_id, e.sort_order
			FROM unnest($2::uuid[], $3::text[], $4::text[], $5::integer[])
			     AS e (alert_id, route_id, stop_id, sort_order)
			LEFT JOIN static.route r ON r.id = e.route_id AND r.source = $1::source_id
			LEFT JOIN static.stop st ON st.id = e.stop_id AND st.source = $1::source_id
			WHERE (e.route_id IS NOT NULL OR e.stop_id IS NOT NULL)
			  AND (e.route_id IS NULL OR r.id IS NOT NULL)
			  AND (e.stop_id IS NULL OR st.id IS NOT NULL)`,
			string(src), pq.Array(alertIDs), pq.Array(routeIDs),
			pq.Array(stopIDs), pq.Array(sortOrders))
		if err != nil {
			return fmt.Errorf("inserting affected entities: %w", err)
		}
	}
	return nil
}

// ActiveAt returns alerts with an active period covering the reference
// time, child rows attached.
func (s *AlertStore) ActiveAt(ctx context.Context, src model.Source, at time.Time) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.original_id, a.created_at, a.updated_at, a.recorded_at, a.data
		FROM realtime.alert a
		WHERE a.source = $1
		  AND EXISTS (
		        SELECT FROM realtime.active_period ap
		        WHERE ap.alert_id = a.id
		          AND ap.start_time <= $2
		          AND (ap.end_time IS NULL OR ap.end_time >= $2))
		ORDER BY a.created_at, a.id`,
		string(src), at)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	records := []AlertRecord{}
	index := map[uuid.UUID]int{}
	var ids []string
	for rows.Next() {
		a := model.Alert{Source: src}
		var data []byte
		if err := rows.Scan(&a.ID, &a.OriginalID, &a.CreatedAt, &a.UpdatedAt,
			&a.RecordedAt, &data); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if a.Data, err = model.UnmarshalAlertData(data); err != nil {
			return nil, fmt.Errorf("decoding alert %s: %w", a.OriginalID, err)
		}
		index[a.ID] = len(records)
		ids = append(ids, a.ID.String())
		records = append(records, AlertRecord{
			Alert:        a,
			Translations: []model.AlertTranslation{},
			Periods:      []model.ActivePeriod{},
			Entities:     []model.AffectedEntity{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading alerts: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	if err := s.attachTranslations(ctx, ids, index, records); err != nil {
		return nil, err
	}
	if err := s.attachPeriods(ctx, ids, index, records); err != nil {
		return nil, err
	}
	if err := s.attachEntities(ctx, ids, index, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *AlertStore) attachTranslations(ctx context.Context, ids []string, index map[uuid.UUID]int, records []AlertRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, section, format, language, text
		FROM realtime.alert_translation
		WHERE alert_id = ANY ($1::uuid[])
		ORDER BY alert_id, section, format, language`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("querying translations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.AlertTranslation
		if err := rows.Scan(&t.AlertID, &t.Section, &t.Format, &t.Language, &t.Text); err != nil {
			return fmt.Errorf("scanning translation: %w", err)
		}
		if i, ok := index[t.AlertID]; ok {
			records[i].Translations = append(records[i].Translations, t)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading translations: %w", err)
	}
	return nil
}

func (s *AlertStore) attachPeriods(ctx context.Context, ids []string, index map[uuid.UUID]int, records []AlertRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, start_time, end_time
		FROM realtime.active_period
		WHERE alert_id = ANY ($1::uuid[])
		ORDER BY alert_id, start_time`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("querying active periods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.ActivePeriod
		var end sql.NullTime
		if err := rows.Scan(&p.AlertID, &p.StartTime, &end); err != nil {
			return fmt.Errorf("scanning active period: %w", err)
		}
		if end.Valid {
			p.EndTime = &end.Time
		}
		if i, ok := index[p.AlertID]; ok {
			records[i].Periods = append(records[i].Periods, p)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading active periods: %w", err)
	}
	return nil
}

func (s *AlertStore) attachEntities(ctx context.Context, ids []string, index map[uuid.UUID]int, records []AlertRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, route_id, source, stop_id, sort_order
		FROM realtime.affected_entity
		WHERE alert_id = ANY ($1::uuid[])
		ORDER BY alert_id, sort_order`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("querying affected entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.AffectedEntity
		var routeID, stopID sql.NullString
		if err := rows.Scan(&e.AlertID, &routeID, &e.Source, &stopID, &e.SortOrder); err != nil {
			return fmt.Errorf("scanning affected entity: %w", err)
		}
		if routeID.Valid {
			e.RouteID = &routeID.String
		}
		if stopID.Valid {
			e.StopID = &stopID.String
		}
		if i, ok := index[e.AlertID]; ok {
			records[i].Entities = append(records[i].Entities, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading affected entities: %w", err)
	}
	return nil
}
