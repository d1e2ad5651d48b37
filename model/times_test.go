package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOriginTime(t *testing.T) {
	for _, tc := range []struct {
		name       string
		hundredths int
		want       time.Duration
	}{
		{"midday", 21150, 3*time.Hour + 31*time.Minute + 30*time.Second},
		{"before_midnight", -200, 23*time.Hour + 58*time.Minute},
		{"past_24h", 145000, 10 * time.Minute},
		{"exactly_24h", 144000, 0},
		{"midnight", 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseOriginTime(tc.hundredths))
		})
	}
}

func TestSubwayOriginTime(t *testing.T) {
	d, ok := SubwayOriginTime("097550_1..S03R")
	require.True(t, ok)
	assert.Equal(t, 16*time.Hour+15*time.Minute+30*time.Second, d)

	_, ok = SubwayOriginTime("no-underscore")
	assert.False(t, ok)

	_, ok = SubwayOriginTime("abc_1..S03R")
	assert.False(t, ok)
}

func TestBusOriginTime(t *testing.T) {
	for _, tc := range []struct {
		name   string
		tripID string
		want   time.Duration
	}{
		{"weekday", "QV_A6-Weekday-SDon-070500_Q45_552", 7*time.Hour + 5*time.Minute},
		{"depot_prefix_stripped", "A6-Weekday-SDon-070500_Q45_552", 7*time.Hour + 5*time.Minute},
		{"double_depot_prefix", "FB_A4-Weekday-SDon-103000_B41_123", 10*time.Hour + 30*time.Minute},
		{"after_midnight", "CS_B4-Sunday-250000_B41_102", 0},
		{"no_groups", "Q45", 0},
		{"short_stamp", "QV_A6-Weekday", 0},
		{"non_numeric_stamp", "QV_A6-Weekzz", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BusOriginTime(tc.tripID))
		})
	}
}

func TestTripCreatedAt(t *testing.T) {
	// Winter: New York is UTC-5.
	created, err := TripCreatedAt("20240115", 16*time.Hour+15*time.Minute+30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 21, 15, 30, 0, time.UTC), created)

	// Summer: New York is UTC-4.
	created, err = TripCreatedAt("20240704", 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 4, 16, 0, 0, 0, time.UTC), created)

	// The fall-back fold is ambiguous locally but must resolve the
	// same way every time.
	first, err := TripCreatedAt("20241103", 1*time.Hour+30*time.Minute)
	require.NoError(t, err)
	second, err := TripCreatedAt("20241103", 1*time.Hour+30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = TripCreatedAt("2024-01-15", 0)
	assert.Error(t, err)
	_, err = TripCreatedAt("2024011x", 0)
	assert.Error(t, err)
}

func TestServiceDate(t *testing.T) {
	// 02:00 UTC is still the previous evening in New York.
	assert.Equal(t, "20240115", ServiceDate(time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)))
	assert.Equal(t, "20240116", ServiceDate(time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)))
}

func TestParseGTFSTime(t *testing.T) {
	d, err := ParseGTFSTime("25:30:00")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour+30*time.Minute, d)

	d, err = ParseGTFSTime("00:00:30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = ParseGTFSTime("25:30")
	assert.Error(t, err)
	_, err = ParseGTFSTime("aa:bb:cc")
	assert.Error(t, err)
}

func TestStripSourcePrefix(t *testing.T) {
	assert.Equal(t, "M102", StripSourcePrefix("MTA NYCT_M102"))
	assert.Equal(t, "QV_A6", StripSourcePrefix("MTABC_QV_A6"))
	assert.Equal(t, "M102", StripSourcePrefix("M102"))
}
