package mtasubway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRouteID(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    string
		express bool
	}{
		{"1", "1", false},
		{"6X", "6", true},
		{"7X", "7", true},
		{"FX", "F", true},
		{"SS", "SI", false},
		{"GS", "GS", false},
		{"X", "X", false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, express := NormalizeRouteID(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.express, express)
		})
	}
}

func TestRouteColor(t *testing.T) {
	assert.Equal(t, "#EE352E", RouteColor("1", "EE352E"))
	assert.Equal(t, "#0039A6", RouteColor("SI", ""))
	assert.Equal(t, "#808183", RouteColor("FS", ""))
	assert.Equal(t, "#808183", RouteColor("H", ""))
	assert.Equal(t, "", RouteColor("Q", ""))
}

func TestNormalizeStopID(t *testing.T) {
	stopID, direction, ok := NormalizeStopID("127N")
	require.True(t, ok)
	assert.Equal(t, "127", stopID)
	require.NotNil(t, direction)
	assert.Equal(t, DirectionNorth, *direction)

	stopID, direction, ok = NormalizeStopID("127S")
	require.True(t, ok)
	assert.Equal(t, "127", stopID)
	require.NotNil(t, direction)
	assert.Equal(t, DirectionSouth, *direction)

	stopID, direction, ok = NormalizeStopID("127")
	require.True(t, ok)
	assert.Equal(t, "127", stopID)
	assert.Nil(t, direction)
}

func TestNormalizeStopIDFakeStops(t *testing.T) {
	// Ghost platforms the feeds still reference.
	for _, id := range []string{"140", "140N", "140S", "H19", "X01N"} {
		_, _, ok := NormalizeStopID(id)
		assert.False(t, ok, id)
	}
}
