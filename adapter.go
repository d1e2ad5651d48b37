// Package transithub coordinates per-source adapters: static imports,
// realtime ingestion, and alert ingestion over a shared store.
package transithub

import (
	"context"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"transithub.dev/transithub/model"
)

// FeedURL names one realtime feed an adapter consumes. Name doubles as
// the debug dump filename.
type FeedURL struct {
	Name string
	URL  string
}

// RealtimeAdapter normalizes one source's trip update and vehicle
// position feeds into the shared model.
type RealtimeAdapter interface {
	Source() model.Source
	RefreshInterval() time.Duration
	FeedURLs() []FeedURL

	// ProcessTrip normalizes a trip update entity. A nil trip means
	// the entity is skipped.
	ProcessTrip(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*model.Trip, []model.StopTime, error)

	// ProcessVehicle normalizes a vehicle position entity. A nil
	// update means the entity is skipped.
	ProcessVehicle(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*PositionUpdate, error)
}

// CyclePreparer is implemented by realtime adapters that need
// per-cycle sideband state fetched before entities are processed. A
// failed prepare degrades the cycle, it does not abort it.
type CyclePreparer interface {
	PrepareCycle(ctx context.Context) error
}

// AlertAdapter normalizes one source's service alert feed.
type AlertAdapter interface {
	Source() model.Source
	RefreshInterval() time.Duration
	FeedURLs() []FeedURL

	// ProcessAlert normalizes an alert entity. A nil entry means the
	// entity is skipped.
	ProcessAlert(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*AlertEntry, error)
}

// StaticAdapter imports one source's static data into the store.
type StaticAdapter interface {
	Source() model.Source
	RefreshInterval() time.Duration
	Import(ctx context.Context) error
}

// TripKey identifies a trip within a single batch, before database ids
// are known. Direction is -1 when the feed gave none, mirroring how
// the store folds a missing direction into the unique key.
type TripKey struct {
	OriginalID string
	VehicleID  string
	Direction  int16
}

// KeyOf derives the batch key for a trip.
func KeyOf(t *model.Trip) TripKey {
	dir := int16(-1)
	if t.Direction != nil {
		dir = *t.Direction
	}
	return TripKey{OriginalID: t.OriginalID, VehicleID: t.VehicleID, Direction: dir}
}

// PositionUpdate is a normalized vehicle position plus the batch key
// of the trip it rides on, if any. The pipeline resolves the key to a
// trip id once trips are saved.
type PositionUpdate struct {
	Position model.VehiclePosition
	TripKey  *TripKey
}

// AlertEntry is one normalized alert with its child rows, keyed by the
// alert's proposed id.
type AlertEntry struct {
	Alert        model.Alert
	Translations []model.AlertTranslation
	Periods      []model.ActivePeriod
	Entities     []model.AffectedEntity
}
