package model

import (
	"encoding/json"
	"fmt"
)

// Source-discriminated payloads. Each entity's Data field is a small
// sum type whose JSON form carries a "source" tag matching the row's
// source column. Decoding switches on the tag; unknown tags are an
// error rather than a silent zero value.

// tagged is implemented by every payload variant.
type tagged interface {
	DataSource() Source
}

func marshalData(d tagged) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(d.DataSource())
	if err != nil {
		return nil, err
	}
	fields["source"] = tag
	return json.Marshal(fields)
}

func dataSource(buf []byte) (Source, error) {
	var envelope struct {
		Source Source `json:"source"`
	}
	if err := json.Unmarshal(buf, &envelope); err != nil {
		return "", fmt.Errorf("reading source tag: %w", err)
	}
	if !envelope.Source.Valid() {
		return "", fmt.Errorf("unknown source tag '%s'", envelope.Source)
	}
	return envelope.Source, nil
}

func unmarshalAs[T tagged](buf []byte) (T, error) {
	var v T
	if err := json.Unmarshal(buf, &v); err != nil {
		return v, err
	}
	return v, nil
}

// RouteData holds per-source route details.
type RouteData interface{ tagged }

type SubwayRouteData struct {
	// Routes whose upstream id carries a trailing X are express
	// variants of the base route.
	Express bool `json:"express,omitempty"`
}

func (SubwayRouteData) DataSource() Source { return SourceMtaSubway }

type BusRouteData struct {
	Shuttle bool `json:"shuttle"`
}

func (BusRouteData) DataSource() Source { return SourceMtaBus }

func MarshalRouteData(d RouteData) ([]byte, error) { return marshalData(d) }

func UnmarshalRouteData(buf []byte) (RouteData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayRouteData](buf)
	default:
		return unmarshalAs[BusRouteData](buf)
	}
}

// StopData holds per-source stop details.
type StopData interface{ tagged }

type SubwayStopData struct {
	Ada           bool    `json:"ada"`
	NorthHeadsign string  `json:"north_headsign,omitempty"`
	SouthHeadsign string  `json:"south_headsign,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Borough       Borough `json:"borough,omitempty"`
}

func (SubwayStopData) DataSource() Source { return SourceMtaSubway }

type BusStopData struct {
	Direction CompassDirection `json:"direction,omitempty"`
}

func (BusStopData) DataSource() Source { return SourceMtaBus }

func MarshalStopData(d StopData) ([]byte, error) { return marshalData(d) }

func UnmarshalStopData(buf []byte) (StopData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayStopData](buf)
	default:
		return unmarshalAs[BusStopData](buf)
	}
}

// RouteStopData holds per-source details of a route serving a stop.
type RouteStopData interface{ tagged }

type SubwayRouteStopData struct {
	StopType StopType `json:"stop_type"`
}

func (SubwayRouteStopData) DataSource() Source { return SourceMtaSubway }

type BusRouteStopData struct {
	Headsign  string `json:"headsign,omitempty"`
	Direction int16  `json:"direction"`
}

func (BusRouteStopData) DataSource() Source { return SourceMtaBus }

func MarshalRouteStopData(d RouteStopData) ([]byte, error) { return marshalData(d) }

func UnmarshalRouteStopData(buf []byte) (RouteStopData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayRouteStopData](buf)
	default:
		return unmarshalAs[BusRouteStopData](buf)
	}
}

// TripData holds per-source trip details.
type TripData interface{ tagged }

type SubwayTripData struct {
	TrainID  string `json:"train_id,omitempty"`
	Assigned bool   `json:"assigned"`
}

func (SubwayTripData) DataSource() Source { return SourceMtaSubway }

type BusTripData struct {
	// Raw block identity from the upstream feed, when present.
	Block string `json:"block,omitempty"`
}

func (BusTripData) DataSource() Source { return SourceMtaBus }

func MarshalTripData(d TripData) ([]byte, error) { return marshalData(d) }

func UnmarshalTripData(buf []byte) (TripData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayTripData](buf)
	default:
		return unmarshalAs[BusTripData](buf)
	}
}

// StopTimeData holds per-source stop time details.
type StopTimeData interface{ tagged }

type SubwayStopTimeData struct {
	ScheduledTrack string `json:"scheduled_track,omitempty"`
	ActualTrack    string `json:"actual_track,omitempty"`
}

func (SubwayStopTimeData) DataSource() Source { return SourceMtaSubway }

type BusStopTimeData struct{}

func (BusStopTimeData) DataSource() Source { return SourceMtaBus }

func MarshalStopTimeData(d StopTimeData) ([]byte, error) { return marshalData(d) }

func UnmarshalStopTimeData(buf []byte) (StopTimeData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayStopTimeData](buf)
	default:
		return unmarshalAs[BusStopTimeData](buf)
	}
}

// PositionData holds per-source vehicle position details.
type PositionData interface{ tagged }

type SubwayPositionData struct {
	CurrentStopSequence int32  `json:"current_stop_sequence,omitempty"`
	Status              string `json:"status,omitempty"`
}

func (SubwayPositionData) DataSource() Source { return SourceMtaSubway }

type BusPositionData struct {
	OccupancyCount    *int   `json:"occupancy_count,omitempty"`
	OccupancyCapacity *int   `json:"occupancy_capacity,omitempty"`
	Status            string `json:"status,omitempty"`
	Phase             string `json:"phase,omitempty"`
	ProgressStatus    string `json:"progress_status,omitempty"`
}

func (BusPositionData) DataSource() Source { return SourceMtaBus }

func MarshalPositionData(d PositionData) ([]byte, error) { return marshalData(d) }

func UnmarshalPositionData(buf []byte) (PositionData, error) {
	src, err := dataSource(buf)
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceMtaSubway:
		return unmarshalAs[SubwayPositionData](buf)
	default:
		return unmarshalAs[BusPositionData](buf)
	}
}

// AlertData holds the Mercury extension fields carried by MTA alerts
// on both sources. CloneID, when set, names the original_id of the
// prior alert this one supersedes.
type AlertData struct {
	Src                 Source `json:"source"`
	AlertType           string `json:"alert_type,omitempty"`
	DisplayBeforeActive int    `json:"display_before_active,omitempty"`
	CloneID             string `json:"clone_id,omitempty"`
	InFeed              bool   `json:"in_feed"`
}

func (d AlertData) DataSource() Source { return d.Src }

func MarshalAlertData(d AlertData) ([]byte, error) { return json.Marshal(d) }

func UnmarshalAlertData(buf []byte) (AlertData, error) {
	var d AlertData
	if err := json.Unmarshal(buf, &d); err != nil {
		return d, err
	}
	if !d.Src.Valid() {
		return d, fmt.Errorf("unknown source tag '%s'", d.Src)
	}
	return d, nil
}
