package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSON codecs for entities whose Data field is a sum type. The
// read-through cache and the HTTP API both rely on these round
// tripping, discriminator included.

func marshalOptional(d tagged) (json.RawMessage, error) {
	if d == nil {
		return nil, nil
	}
	return marshalData(d)
}

type routeJSON struct {
	ID        string          `json:"id"`
	Source    Source          `json:"source"`
	LongName  string          `json:"long_name"`
	ShortName string          `json:"short_name"`
	Color     string          `json:"color"`
	Geom      []byte          `json:"geom,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (r Route) MarshalJSON() ([]byte, error) {
	data, err := marshalOptional(r.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(routeJSON{
		ID:        r.ID,
		Source:    r.Source,
		LongName:  r.LongName,
		ShortName: r.ShortName,
		Color:     r.Color,
		Geom:      r.Geom,
		Data:      data,
	})
}

func (r *Route) UnmarshalJSON(buf []byte) error {
	var j routeJSON
	if err := json.Unmarshal(buf, &j); err != nil {
		return err
	}
	*r = Route{
		ID:        j.ID,
		Source:    j.Source,
		LongName:  j.LongName,
		ShortName: j.ShortName,
		Color:     j.Color,
		Geom:      j.Geom,
	}
	if len(j.Data) > 0 {
		data, err := UnmarshalRouteData(j.Data)
		if err != nil {
			return err
		}
		r.Data = data
	}
	return nil
}

type stopJSON struct {
	ID        string          `json:"id"`
	Source    Source          `json:"source"`
	Name      string          `json:"name"`
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
	Data      json.RawMessage `json:"data,omitempty"`
	Transfers []string        `json:"transfers"`
	Routes    []string        `json:"routes"`
}

func (s Stop) MarshalJSON() ([]byte, error) {
	data, err := marshalOptional(s.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stopJSON{
		ID:        s.ID,
		Source:    s.Source,
		Name:      s.Name,
		Lat:       s.Lat,
		Lon:       s.Lon,
		Data:      data,
		Transfers: s.Transfers,
		Routes:    s.Routes,
	})
}

func (s *Stop) UnmarshalJSON(buf []byte) error {
	var j stopJSON
	if err := json.Unmarshal(buf, &j); err != nil {
		return err
	}
	*s = Stop{
		ID:        j.ID,
		Source:    j.Source,
		Name:      j.Name,
		Lat:       j.Lat,
		Lon:       j.Lon,
		Transfers: j.Transfers,
		Routes:    j.Routes,
	}
	if len(j.Data) > 0 {
		data, err := UnmarshalStopData(j.Data)
		if err != nil {
			return err
		}
		s.Data = data
	}
	return nil
}

type tripJSON struct {
	ID         uuid.UUID       `json:"id"`
	Source     Source          `json:"source"`
	OriginalID string          `json:"original_id"`
	VehicleID  string          `json:"vehicle_id"`
	RouteID    string          `json:"route_id"`
	Direction  *int16          `json:"direction,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (t Trip) MarshalJSON() ([]byte, error) {
	data, err := marshalOptional(t.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tripJSON{
		ID:         t.ID,
		Source:     t.Source,
		OriginalID: t.OriginalID,
		VehicleID:  t.VehicleID,
		RouteID:    t.RouteID,
		Direction:  t.Direction,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		Data:       data,
	})
}

func (t *Trip) UnmarshalJSON(buf []byte) error {
	var j tripJSON
	if err := json.Unmarshal(buf, &j); err != nil {
		return err
	}
	*t = Trip{
		ID:         j.ID,
		Source:     j.Source,
		OriginalID: j.OriginalID,
		VehicleID:  j.VehicleID,
		RouteID:    j.RouteID,
		Direction:  j.Direction,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if len(j.Data) > 0 {
		data, err := UnmarshalTripData(j.Data)
		if err != nil {
			return err
		}
		t.Data = data
	}
	return nil
}

type stopTimeJSON struct {
	TripID    uuid.UUID       `json:"trip_id"`
	Source    Source          `json:"source"`
	StopID    string          `json:"stop_id"`
	Arrival   time.Time       `json:"arrival"`
	Departure time.Time       `json:"departure"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (st StopTime) MarshalJSON() ([]byte, error) {
	data, err := marshalOptional(st.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stopTimeJSON{
		TripID:    st.TripID,
		Source:    st.Source,
		StopID:    st.StopID,
		Arrival:   st.Arrival,
		Departure: st.Departure,
		Data:      data,
	})
}

func (st *StopTime) UnmarshalJSON(buf []byte) error {
	var j stopTimeJSON
	if err := json.Unmarshal(buf, &j); err != nil {
		return err
	}
	*st = StopTime{
		TripID:    j.TripID,
		Source:    j.Source,
		StopID:    j.StopID,
		Arrival:   j.Arrival,
		Departure: j.Departure,
	}
	if len(j.Data) > 0 {
		data, err := UnmarshalStopTimeData(j.Data)
		if err != nil {
			return err
		}
		st.Data = data
	}
	return nil
}

type positionJSON struct {
	VehicleID string          `json:"vehicle_id"`
	Source    Source          `json:"source"`
	TripID    *uuid.UUID      `json:"trip_id,omitempty"`
	StopID    *string         `json:"stop_id,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Lat       *float64        `json:"lat,omitempty"`
	Lon       *float64        `json:"lon,omitempty"`
	Bearing   *float32        `json:"bearing,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (vp VehiclePosition) MarshalJSON() ([]byte, error) {
	data, err := marshalOptional(vp.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(positionJSON{
		VehicleID: vp.VehicleID,
		Source:    vp.Source,
		TripID:    vp.TripID,
		StopID:    vp.StopID,
		UpdatedAt: vp.UpdatedAt,
		Lat:       vp.Lat,
		Lon:       vp.Lon,
		Bearing:   vp.Bearing,
		Data:      data,
	})
}

func (vp *VehiclePosition) UnmarshalJSON(buf []byte) error {
	var j positionJSON
	if err := json.Unmarshal(buf, &j); err != nil {
		return err
	}
	*vp = VehiclePosition{
		VehicleID: j.VehicleID,
		Source:    j.Source,
		TripID:    j.TripID,
		StopID:    j.StopID,
		UpdatedAt: j.UpdatedAt,
		Lat:       j.Lat,
		Lon:       j.Lon,
		Bearing:   j.Bearing,
	}
	if len(j.Data) > 0 {
		data, err := UnmarshalPositionData(j.Data)
		if err != nil {
			return err
		}
		vp.Data = data
	}
	return nil
}
