package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Holds the shared data model all adapters normalize into. Every
// realtime and static entity carries a Source; unique keys and
// foreign keys are (natural key, source)-scoped.

// Source identifies an upstream transit system.
type Source string

const (
	SourceMtaSubway Source = "mta_subway"
	SourceMtaBus    Source = "mta_bus"
)

// Sources lists every known source.
func Sources() []Source {
	return []Source{SourceMtaSubway, SourceMtaBus}
}

func (s Source) Valid() bool {
	switch s {
	case SourceMtaSubway, SourceMtaBus:
		return true
	}
	return false
}

// ParseSource converts a path/query value into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown source '%s'", s)
	}
	return src, nil
}

// StopType categorizes how trips serve a subway stop on a route.
type StopType string

const (
	StopTypeAllTrips      StopType = "all_trips"
	StopTypeSomeTrips     StopType = "some_trips"
	StopTypeRushHour      StopType = "rush_hour"
	StopTypeRushHourOneWay StopType = "rush_hour_one_way"
	StopTypeNights        StopType = "nights"
	StopTypeNoTrips       StopType = "no_trips"
)

type Borough string

const (
	BoroughBronx        Borough = "bronx"
	BoroughBrooklyn     Borough = "brooklyn"
	BoroughManhattan    Borough = "manhattan"
	BoroughQueens       Borough = "queens"
	BoroughStatenIsland Borough = "staten_island"
)

// CompassDirection is the heading a bus stop faces.
type CompassDirection string

const (
	CompassNorth CompassDirection = "N"
	CompassEast  CompassDirection = "E"
	CompassSouth CompassDirection = "S"
	CompassWest  CompassDirection = "W"
)

type AlertSection string

const (
	AlertSectionHeader      AlertSection = "header"
	AlertSectionDescription AlertSection = "description"
)

type AlertFormat string

const (
	AlertFormatPlain AlertFormat = "plain"
	AlertFormatHTML  AlertFormat = "html"
)

// Route is a transit line. Color is stored with a leading '#'. Geom,
// when present, is a WKB multi-linestring in WGS84 and is passed
// through to the database untouched.
type Route struct {
	ID        string
	Source    Source
	LongName  string
	ShortName string
	Color     string
	Geom      []byte
	Data      RouteData
}

// Stop is a station or bus stop. Transfers holds the IDs of stops
// (same source) reachable without fare. Routes holds the IDs of
// routes serving the stop.
type Stop struct {
	ID        string
	Source    Source
	Name      string
	Lat       float64
	Lon       float64
	Data      StopData
	Transfers []string
	Routes    []string
}

// RouteStop places a stop in a route's stop sequence.
type RouteStop struct {
	RouteID      string
	Source       Source
	StopID       string
	StopSequence int
	Data         RouteStopData
}

// StopTransfer connects two stops. Self-transfers and known-bogus
// stops are filtered before persistence.
type StopTransfer struct {
	FromStopID      string
	FromSource      Source
	ToStopID        string
	ToSource        Source
	TransferType    int
	MinTransferTime *int
}

// Trip is a single realtime vehicle run. ID is a time-ordered UUID
// proposed client-side; the store may hand back a pre-existing DB id
// for the same natural key (OriginalID, VehicleID, CreatedAt,
// Direction). CreatedAt is the scheduled local start converted to
// UTC and is deterministic per (start date, origin time).
//
// Direction encoding is per-source: the subway uses {1, 3} for
// north/south, buses use the GTFS {0, 1}.
type Trip struct {
	ID         uuid.UUID
	Source     Source
	OriginalID string
	VehicleID  string
	RouteID    string
	Direction  *int16
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Data       TripData
}

// StopTime is a predicted stop event on a trip. When the feed omits
// one of arrival/departure (first/last stop), the other fills in.
type StopTime struct {
	TripID    uuid.UUID
	Source    Source
	StopID    string
	Arrival   time.Time
	Departure time.Time
	Data      StopTimeData
}

// VehiclePosition is the latest known position of a vehicle.
// Upsert-only; no history is kept here.
type VehiclePosition struct {
	VehicleID string
	Source    Source
	TripID    *uuid.UUID
	StopID    *string
	UpdatedAt time.Time
	Lat       *float64
	Lon       *float64
	Bearing   *float32
	Data      PositionData
}

// Alert is a service alert. OriginalID is the upstream identifier and
// is not unique over time; the natural key is (CreatedAt, OriginalID,
// Source).
type Alert struct {
	ID         uuid.UUID `json:"id"`
	OriginalID string    `json:"original_id"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	RecordedAt time.Time `json:"recorded_at"`
	Data       AlertData `json:"data"`
}

type AlertTranslation struct {
	AlertID  uuid.UUID    `json:"alert_id"`
	Section  AlertSection `json:"section"`
	Format   AlertFormat  `json:"format"`
	Language string       `json:"language"`
	Text     string       `json:"text"`
}

// ActivePeriod is a window during which an alert is in effect. A nil
// EndTime means open-ended.
type ActivePeriod struct {
	AlertID   uuid.UUID  `json:"alert_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// AffectedEntity names a route and/or stop an alert applies to.
type AffectedEntity struct {
	AlertID   uuid.UUID `json:"alert_id"`
	RouteID   *string   `json:"route_id,omitempty"`
	Source    Source    `json:"source"`
	StopID    *string   `json:"stop_id,omitempty"`
	SortOrder int       `json:"sort_order"`
}

// NewID proposes a time-ordered identity for a realtime row. The
// store is free to return a different id if the row's natural key
// already exists.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does.
		return uuid.New()
	}
	return id
}
