package mtabus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
)

func testRealtime(t *testing.T) *Realtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRealtime(fetch.NewClient(), "test-key", false, logger)
	require.NoError(t, err)
	return r
}

func TestNewRealtimeRequiresKey(t *testing.T) {
	_, err := NewRealtime(fetch.NewClient(), "", false, nil)
	assert.Error(t, err)
}

func TestFeedURLsCarryKey(t *testing.T) {
	r := testRealtime(t)
	urls := r.FeedURLs()
	require.Len(t, urls, 2)
	assert.Contains(t, urls[0].URL, "tripUpdates?key=test-key")
	assert.Contains(t, urls[1].URL, "vehiclePositions?key=test-key")
}

func TestProcessTrip(t *testing.T) {
	tu := &gtfsrt.TripUpdate{
		Trip: &gtfsrt.TripDescriptor{
			TripId:      proto.String("MTABC_A6-Weekday-SDon-070500_Q45_552"),
			RouteId:     proto.String("MTABC_Q45"),
			StartDate:   proto.String("20240115"),
			DirectionId: proto.Uint32(1),
		},
		Vehicle: &gtfsrt.VehicleDescriptor{
			Id:    proto.String("MTABC_8865"),
			Label: proto.String("Q45-block-3"),
		},
		StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{
			{
				StopId:  proto.String("MTABC_504169"),
				Arrival: &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(1705323000)},
			},
		},
	}
	entity := &gtfsrt.FeedEntity{Id: proto.String("1"), TripUpdate: tu}

	recordedAt := time.Date(2024, 1, 15, 12, 15, 0, 0, time.UTC)
	trip, stopTimes, err := testRealtime(t).ProcessTrip(entity, recordedAt)
	require.NoError(t, err)
	require.NotNil(t, trip)

	// Agency prefixes are stripped throughout.
	assert.Equal(t, "A6-Weekday-SDon-070500_Q45_552", trip.OriginalID)
	assert.Equal(t, "8865", trip.VehicleID)
	assert.Equal(t, "Q45", trip.RouteID)
	require.NotNil(t, trip.Direction)
	assert.Equal(t, int16(1), *trip.Direction)
	// 070500 in the trip id is 07:05 New York time, UTC-5 in January.
	assert.Equal(t, time.Date(2024, 1, 15, 12, 5, 0, 0, time.UTC), trip.CreatedAt)
	assert.Equal(t, model.BusTripData{Block: "Q45-block-3"}, trip.Data)

	require.Len(t, stopTimes, 1)
	assert.Equal(t, "504169", stopTimes[0].StopID)
	assert.Equal(t, stopTimes[0].Arrival, stopTimes[0].Departure)
}

func TestProcessTripWithoutStartDate(t *testing.T) {
	tu := &gtfsrt.TripUpdate{
		Trip: &gtfsrt.TripDescriptor{
			TripId: proto.String("MTA NYCT_FB_A4-Weekday-SDon-103000_B41_123"),
		},
		Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("MTA NYCT_4512")},
	}
	entity := &gtfsrt.FeedEntity{Id: proto.String("1"), TripUpdate: tu}

	// The feed omits start_date; the recording instant's New York
	// service date fills in.
	recordedAt := time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC) // Jan 15 evening in NY
	trip, _, err := testRealtime(t).ProcessTrip(entity, recordedAt)
	require.NoError(t, err)
	// 10:30 New York on the 15th, not the UTC date of the recording.
	assert.Equal(t, time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC), trip.CreatedAt)
}

func TestProcessTripPrefersExplicitStartTime(t *testing.T) {
	tu := &gtfsrt.TripUpdate{
		Trip: &gtfsrt.TripDescriptor{
			TripId:    proto.String("MTABC_A6-Weekday-SDon-070500_Q45_552"),
			StartDate: proto.String("20240115"),
			StartTime: proto.String("08:10:00"),
		},
		Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("MTABC_8865")},
	}
	entity := &gtfsrt.FeedEntity{Id: proto.String("1"), TripUpdate: tu}

	trip, _, err := testRealtime(t).ProcessTrip(entity, time.Now().UTC())
	require.NoError(t, err)
	// 08:10 New York beats the 07:05 baked into the trip id.
	assert.Equal(t, time.Date(2024, 1, 15, 13, 10, 0, 0, time.UTC), trip.CreatedAt)
}

func TestProcessTripRejectsMissingIDs(t *testing.T) {
	r := testRealtime(t)

	_, _, err := r.ProcessTrip(&gtfsrt.FeedEntity{
		Id:         proto.String("1"),
		TripUpdate: &gtfsrt.TripUpdate{},
	}, time.Now().UTC())
	assert.Error(t, err)

	_, _, err = r.ProcessTrip(&gtfsrt.FeedEntity{
		Id: proto.String("1"),
		TripUpdate: &gtfsrt.TripUpdate{
			Trip: &gtfsrt.TripDescriptor{TripId: proto.String("MTABC_trip")},
		},
	}, time.Now().UTC())
	assert.Error(t, err)
}

func TestProcessVehicleMergesSidebandInfo(t *testing.T) {
	r := testRealtime(t)
	count, capacity := 17, 54
	r.info = map[string]vehicleInfo{
		"8865": {
			occupancyCount:    &count,
			occupancyCapacity: &capacity,
			status:            "default",
			phase:             "IN_PROGRESS",
			progressStatus:    "layover",
		},
	}

	entity := &gtfsrt.FeedEntity{
		Id: proto.String("MTABC_8865"),
		Vehicle: &gtfsrt.VehiclePosition{
			Trip: &gtfsrt.TripDescriptor{
				TripId:      proto.String("MTABC_A6-Weekday-SDon-070500_Q45_552"),
				DirectionId: proto.Uint32(0),
			},
			Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("MTABC_8865")},
			Position: &gtfsrt.Position{
				Latitude:  proto.Float32(40.639),
				Longitude: proto.Float32(-73.954),
				Bearing:   proto.Float32(241.9),
			},
			StopId:    proto.String("MTABC_504169"),
			Timestamp: proto.Uint64(1705323000),
		},
	}

	update, err := r.ProcessVehicle(entity, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, update)

	pos := update.Position
	assert.Equal(t, "8865", pos.VehicleID)
	require.NotNil(t, pos.Lat)
	assert.InDelta(t, 40.639, *pos.Lat, 0.001)
	require.NotNil(t, pos.Bearing)
	require.NotNil(t, pos.StopID)
	assert.Equal(t, "504169", *pos.StopID)

	data, ok := pos.Data.(model.BusPositionData)
	require.True(t, ok)
	require.NotNil(t, data.OccupancyCount)
	assert.Equal(t, 17, *data.OccupancyCount)
	assert.Equal(t, "IN_PROGRESS", data.Phase)
	assert.Equal(t, "layover", data.ProgressStatus)

	require.NotNil(t, update.TripKey)
	assert.Equal(t, "A6-Weekday-SDon-070500_Q45_552", update.TripKey.OriginalID)
	assert.Equal(t, "8865", update.TripKey.VehicleID)
	assert.Equal(t, int16(0), update.TripKey.Direction)
}

func TestProcessVehicleWithoutSidebandInfo(t *testing.T) {
	entity := &gtfsrt.FeedEntity{
		Id: proto.String("MTABC_9001"),
		Vehicle: &gtfsrt.VehiclePosition{
			Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("MTABC_9001")},
		},
	}

	update, err := testRealtime(t).ProcessVehicle(entity, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, model.BusPositionData{}, update.Position.Data)
	assert.Nil(t, update.TripKey)
}
