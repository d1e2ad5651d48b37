package mtasubway

import (
	"fmt"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"google.golang.org/protobuf/proto"

	"transithub.dev/transithub"
	"transithub.dev/transithub/model"
)

const feedBase = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"

// One feed per line group. The numbered lines share a feed with the
// shuttles; SIR rides its own.
var realtimeFeeds = []transithub.FeedURL{
	{Name: "nyct-1234567s", URL: feedBase},
	{Name: "nyct-ace", URL: feedBase + "-ace"},
	{Name: "nyct-bdfm", URL: feedBase + "-bdfm"},
	{Name: "nyct-g", URL: feedBase + "-g"},
	{Name: "nyct-jz", URL: feedBase + "-jz"},
	{Name: "nyct-l", URL: feedBase + "-l"},
	{Name: "nyct-nqrw", URL: feedBase + "-nqrw"},
	{Name: "nyct-si", URL: feedBase + "-si"},
}

// Realtime normalizes subway trip updates and train positions.
type Realtime struct{}

func NewRealtime() *Realtime { return &Realtime{} }

func (r *Realtime) Source() model.Source           { return model.SourceMtaSubway }
func (r *Realtime) RefreshInterval() time.Duration { return 30 * time.Second }
func (r *Realtime) FeedURLs() []transithub.FeedURL { return realtimeFeeds }

func (r *Realtime) ProcessTrip(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*model.Trip, []model.StopTime, error) {
	tu := entity.GetTripUpdate()
	if tu == nil {
		return nil, nil, nil
	}
	td := tu.GetTrip()

	// An explicit start_time wins; most entities carry the origin time
	// only in the trip id.
	origin, haveOrigin := time.Duration(0), false
	if st := td.GetStartTime(); st != "" {
		if d, err := model.ParseGTFSTime(st); err == nil {
			origin, haveOrigin = d, true
		}
	}
	if !haveOrigin {
		origin, haveOrigin = model.SubwayOriginTime(td.GetTripId())
	}
	if !haveOrigin {
		return nil, nil, fmt.Errorf("no origin time in trip id '%s'", td.GetTripId())
	}
	createdAt, err := model.TripCreatedAt(td.GetStartDate(), origin)
	if err != nil {
		return nil, nil, err
	}

	routeID, _ := NormalizeRouteID(td.GetRouteId())
	trainID, assigned, direction := nyctTrip(td)

	vehicleID := trainID
	if vehicleID == "" {
		vehicleID = tu.GetVehicle().GetId()
	}
	if vehicleID == "" {
		vehicleID = td.GetTripId()
	}

	trip := &model.Trip{
		ID:         model.NewID(),
		Source:     model.SourceMtaSubway,
		OriginalID: td.GetTripId(),
		VehicleID:  vehicleID,
		RouteID:    routeID,
		Direction:  direction,
		CreatedAt:  createdAt,
		UpdatedAt:  recordedAt,
		Data:       model.SubwayTripData{TrainID: trainID, Assigned: assigned},
	}

	var stopTimes []model.StopTime
	for _, stu := range tu.GetStopTimeUpdate() {
		stopID, dir, ok := NormalizeStopID(stu.GetStopId())
		if !ok {
			continue
		}
		// The extension omits direction on some trips; the platform
		// suffix carries the same information.
		if trip.Direction == nil && dir != nil {
			trip.Direction = dir
		}

		arrival := stu.GetArrival().GetTime()
		departure := stu.GetDeparture().GetTime()
		if arrival == 0 {
			arrival = departure
		}
		if departure == 0 {
			departure = arrival
		}
		if arrival == 0 {
			continue
		}

		stopTimes = append(stopTimes, model.StopTime{
			TripID:    trip.ID,
			Source:    model.SourceMtaSubway,
			StopID:    stopID,
			Arrival:   time.Unix(arrival, 0).UTC(),
			Departure: time.Unix(departure, 0).UTC(),
			Data:      stopTimeData(stu),
		})
	}

	return trip, stopTimes, nil
}

func (r *Realtime) ProcessVehicle(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*transithub.PositionUpdate, error) {
	vp := entity.GetVehicle()
	if vp == nil {
		return nil, nil
	}
	td := vp.GetTrip()

	trainID, _, direction := nyctTrip(td)
	vehicleID := trainID
	if vehicleID == "" {
		vehicleID = vp.GetVehicle().GetId()
	}
	if vehicleID == "" {
		return nil, nil
	}

	updatedAt := recordedAt
	if ts := vp.GetTimestamp(); ts != 0 {
		updatedAt = time.Unix(int64(ts), 0).UTC()
	}

	position := model.VehiclePosition{
		VehicleID: vehicleID,
		Source:    model.SourceMtaSubway,
		UpdatedAt: updatedAt,
		Data: model.SubwayPositionData{
			CurrentStopSequence: int32(vp.GetCurrentStopSequence()),
			Status:              vp.GetCurrentStatus().String(),
		},
	}
	if stopID, dir, ok := NormalizeStopID(vp.GetStopId()); ok && stopID != "" {
		position.StopID = &stopID
		if direction == nil {
			direction = dir
		}
	}

	update := &transithub.PositionUpdate{Position: position}
	if td.GetTripId() != "" {
		key := transithub.TripKey{
			OriginalID: td.GetTripId(),
			VehicleID:  vehicleID,
			Direction:  -1,
		}
		if direction != nil {
			key.Direction = *direction
		}
		update.TripKey = &key
	}
	return update, nil
}

// nyctTrip pulls the vendor extension off a trip descriptor.
func nyctTrip(td *gtfsrt.TripDescriptor) (trainID string, assigned bool, direction *int16) {
	if td == nil || !proto.HasExtension(td, gtfsrt.E_NyctTripDescriptor) {
		return "", false, nil
	}
	nyct := proto.GetExtension(td, gtfsrt.E_NyctTripDescriptor).(*gtfsrt.NyctTripDescriptor)
	trainID = nyct.GetTrainId()
	assigned = nyct.GetIsAssigned()
	switch nyct.GetDirection() {
	case gtfsrt.NyctTripDescriptor_NORTH:
		d := DirectionNorth
		direction = &d
	case gtfsrt.NyctTripDescriptor_SOUTH:
		d := DirectionSouth
		direction = &d
	}
	return trainID, assigned, direction
}

func stopTimeData(stu *gtfsrt.TripUpdate_StopTimeUpdate) model.SubwayStopTimeData {
	var data model.SubwayStopTimeData
	if proto.HasExtension(stu, gtfsrt.E_NyctStopTimeUpdate) {
		nyct := proto.GetExtension(stu, gtfsrt.E_NyctStopTimeUpdate).(*gtfsrt.NyctStopTimeUpdate)
		data.ScheduledTrack = nyct.GetScheduledTrack()
		data.ActualTrack = nyct.GetActualTrack()
	}
	return data
}
