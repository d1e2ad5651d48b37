package mtabus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"transithub.dev/transithub"
	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
)

const gtfsrtBase = "http://gtfsrt.prod.obanyc.com"

// vehicleInfo is the per-vehicle sideband state merged in from
// OneBusAway (and SIRI, when enabled) each cycle. The GTFS-Realtime
// feed itself carries none of it.
type vehicleInfo struct {
	occupancyCount    *int
	occupancyCapacity *int
	status            string
	phase             string
	progressStatus    string
}

// Realtime normalizes bus trip updates and vehicle positions.
type Realtime struct {
	oba    *obaClient
	siri   *siriClient
	logger *slog.Logger

	mu   sync.RWMutex
	info map[string]vehicleInfo
}

// NewRealtime builds the bus realtime adapter. useSiri additionally
// polls the legacy SIRI feed for progress status.
func NewRealtime(fetcher *fetch.Client, apiKey string, useSiri bool, logger *slog.Logger) (*Realtime, error) {
	oba, err := newOBAClient(fetcher, apiKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Realtime{
		oba:    oba,
		logger: logger.With("source", model.SourceMtaBus),
		info:   map[string]vehicleInfo{},
	}
	if useSiri {
		r.siri = &siriClient{fetcher: fetcher, key: apiKey}
	}
	return r, nil
}

func (r *Realtime) Source() model.Source           { return model.SourceMtaBus }
func (r *Realtime) RefreshInterval() time.Duration { return 30 * time.Second }

func (r *Realtime) FeedURLs() []transithub.FeedURL {
	key := url.QueryEscape(r.oba.key)
	return []transithub.FeedURL{
		{Name: "bus-trip-updates", URL: fmt.Sprintf("%s/tripUpdates?key=%s", gtfsrtBase, key)},
		{Name: "bus-vehicle-positions", URL: fmt.Sprintf("%s/vehiclePositions?key=%s", gtfsrtBase, key)},
	}
}

// PrepareCycle refreshes the sideband vehicle state. A partial result
// still replaces the previous cycle's map; stale occupancy is worse
// than none.
func (r *Realtime) PrepareCycle(ctx context.Context) error {
	info := map[string]vehicleInfo{}
	var firstErr error

	for _, agency := range obaAgencies {
		vehicles, err := r.oba.vehiclesForAgency(ctx, agency)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, v := range vehicles {
			info[model.StripSourcePrefix(v.VehicleID)] = vehicleInfo{
				occupancyCount:    v.TripStatus.OccupancyCount,
				occupancyCapacity: v.TripStatus.OccupancyCapacity,
				status:            v.TripStatus.Status,
				phase:             v.TripStatus.Phase,
			}
		}
	}

	if r.siri != nil {
		statuses, err := r.siri.progressStatuses(ctx)
		if err != nil {
			r.logger.Warn("fetching siri progress statuses", "error", err)
		}
		for vehicleID, status := range statuses {
			entry := info[vehicleID]
			entry.progressStatus = status
			info[vehicleID] = entry
		}
	}

	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
	return firstErr
}

func (r *Realtime) lookupInfo(vehicleID string) (vehicleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.info[vehicleID]
	return entry, ok
}

func (r *Realtime) ProcessTrip(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*model.Trip, []model.StopTime, error) {
	tu := entity.GetTripUpdate()
	if tu == nil {
		return nil, nil, nil
	}
	td := tu.GetTrip()

	originalID := model.StripSourcePrefix(td.GetTripId())
	if originalID == "" {
		return nil, nil, fmt.Errorf("trip update without trip id")
	}

	vehicleID := model.StripSourcePrefix(tu.GetVehicle().GetId())
	if vehicleID == "" {
		return nil, nil, fmt.Errorf("trip %s without vehicle id", originalID)
	}

	startDate := td.GetStartDate()
	if startDate == "" {
		startDate = model.ServiceDate(recordedAt)
	}
	// An explicit start_time wins over the timestamp baked into the
	// trip id.
	origin := model.BusOriginTime(originalID)
	if st := td.GetStartTime(); st != "" {
		if d, err := model.ParseGTFSTime(st); err == nil {
			origin = d
		}
	}
	createdAt, err := model.TripCreatedAt(startDate, origin)
	if err != nil {
		return nil, nil, err
	}

	direction := int16(td.GetDirectionId())

	trip := &model.Trip{
		ID:         model.NewID(),
		Source:     model.SourceMtaBus,
		OriginalID: originalID,
		VehicleID:  vehicleID,
		RouteID:    model.StripSourcePrefix(td.GetRouteId()),
		Direction:  &direction,
		CreatedAt:  createdAt,
		UpdatedAt:  recordedAt,
		Data:       model.BusTripData{Block: tu.GetVehicle().GetLabel()},
	}

	var stopTimes []model.StopTime
	for _, stu := range tu.GetStopTimeUpdate() {
		stopID := model.StripSourcePrefix(stu.GetStopId())
		if stopID == "" {
			continue
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
			Source:    model.SourceMtaBus,
			StopID:    stopID,
			Arrival:   time.Unix(arrival, 0).UTC(),
			Departure: time.Unix(departure, 0).UTC(),
			Data:      model.BusStopTimeData{},
		})
	}

	return trip, stopTimes, nil
}

func (r *Realtime) ProcessVehicle(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*transithub.PositionUpdate, error) {
	vp := entity.GetVehicle()
	if vp == nil {
		return nil, nil
	}

	vehicleID := model.StripSourcePrefix(vp.GetVehicle().GetId())
	if vehicleID == "" {
		return nil, nil
	}

	updatedAt := recordedAt
	if ts := vp.GetTimestamp(); ts != 0 {
		updatedAt = time.Unix(int64(ts), 0).UTC()
	}

	data := model.BusPositionData{}
	if info, ok := r.lookupInfo(vehicleID); ok {
		data.OccupancyCount = info.occupancyCount
		data.OccupancyCapacity = info.occupancyCapacity
		data.Status = info.status
		data.Phase = info.phase
		data.ProgressStatus = info.progressStatus
	}

	position := model.VehiclePosition{
		VehicleID: vehicleID,
		Source:    model.SourceMtaBus,
		UpdatedAt: updatedAt,
		Data:      data,
	}
	if pos := vp.GetPosition(); pos != nil {
		lat := float64(pos.GetLatitude())
		lon := float64(pos.GetLongitude())
		position.Lat = &lat
		position.Lon = &lon
		if pos.Bearing != nil {
			bearing := pos.GetBearing()
			position.Bearing = &bearing
		}
	}
	if stopID := model.StripSourcePrefix(vp.GetStopId()); stopID != "" {
		position.StopID = &stopID
	}

	update := &transithub.PositionUpdate{Position: position}
	if td := vp.GetTrip(); td.GetTripId() != "" {
		direction := int16(td.GetDirectionId())
		update.TripKey = &transithub.TripKey{
			OriginalID: model.StripSourcePrefix(td.GetTripId()),
			VehicleID:  vehicleID,
			Direction:  direction,
		}
	}
	return update, nil
}
