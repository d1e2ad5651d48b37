package mtabus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transithub.dev/transithub/model"
)

func stopGroup(id, name string, stopIDs ...string) obaStopGroup {
	g := obaStopGroup{ID: id, StopIDs: stopIDs}
	g.Name.Name = name
	return g
}

func TestGroupRouteStops(t *testing.T) {
	detail := &obaStopsForRoute{}
	detail.Entry.StopGroupings = []struct {
		Type       string         `json:"type"`
		StopGroups []obaStopGroup `json:"stopGroups"`
	}{
		{
			Type: "direction",
			StopGroups: []obaStopGroup{
				stopGroup("0", "JAMAICA 165 ST TERM", "MTABC_550031", "MTABC_550032"),
				stopGroup("1", "GLEN OAKS", "MTABC_550041", "MTABC_550031"),
			},
		},
		{
			Type:       "other",
			StopGroups: []obaStopGroup{stopGroup("0", "ignored", "MTABC_999999")},
		},
	}

	rows := groupRouteStops("Q45", detail)

	// The duplicate stop keeps its first grouping's row; the
	// non-direction grouping is ignored entirely.
	require.Len(t, rows, 3)
	assert.Equal(t, "550031", rows[0].StopID)
	assert.Equal(t, 0, rows[0].StopSequence)
	assert.Equal(t, model.BusRouteStopData{Headsign: "JAMAICA 165 ST TERM", Direction: 0}, rows[0].Data)
	assert.Equal(t, "550032", rows[1].StopID)
	assert.Equal(t, "550041", rows[2].StopID)
	assert.Equal(t, model.BusRouteStopData{Headsign: "GLEN OAKS", Direction: 1}, rows[2].Data)
}

func TestGroupRouteStopsSkipsNonNumericGroups(t *testing.T) {
	detail := &obaStopsForRoute{}
	detail.Entry.StopGroupings = []struct {
		Type       string         `json:"type"`
		StopGroups []obaStopGroup `json:"stopGroups"`
	}{
		{
			Type:       "direction",
			StopGroups: []obaStopGroup{stopGroup("loop", "LOOP", "MTABC_550031")},
		},
	}

	assert.Empty(t, groupRouteStops("Q45", detail))
}

func TestCompassOf(t *testing.T) {
	assert.Equal(t, model.CompassNorth, compassOf("N"))
	assert.Equal(t, model.CompassNorth, compassOf("NW"))
	assert.Equal(t, model.CompassEast, compassOf("E"))
	assert.Equal(t, model.CompassSouth, compassOf("SE"))
	assert.Equal(t, model.CompassWest, compassOf("W"))
	assert.Equal(t, model.CompassDirection(""), compassOf(""))
	assert.Equal(t, model.CompassDirection(""), compassOf("?"))
}

func TestIsShuttle(t *testing.T) {
	assert.True(t, isShuttle(obaRoute{LongName: "Rockaway Park Shuttle"}))
	assert.True(t, isShuttle(obaRoute{Description: "Temporary SHUTTLE service"}))
	assert.False(t, isShuttle(obaRoute{ShortName: "Q45", LongName: "Glen Oaks - Jamaica"}))
}
