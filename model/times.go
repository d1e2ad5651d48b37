package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A day of origin times, in hundredths of minutes. Subway trip ids
// encode the scheduled departure from the origin terminal this way.
const originTimeDay = 144000

var nyc *time.Location

func init() {
	var err error
	nyc, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("loading America/New_York: %v", err))
	}
}

// ParseOriginTime converts hundredths of minutes past midnight into a
// wall-clock offset. The input is normalized with a Euclidean
// remainder, so negative values (trips that originate before
// midnight) and values past 24h wrap around. The result is always in
// [0, 24h).
func ParseOriginTime(hundredths int) time.Duration {
	hundredths = ((hundredths % originTimeDay) + originTimeDay) % originTimeDay
	seconds := hundredths * 6 / 10
	return time.Duration(seconds) * time.Second
}

// SubwayOriginTime extracts the origin time encoded in a subway trip
// id ("097550_1..S03R" -> 097550 hundredths of minutes).
func SubwayOriginTime(tripID string) (time.Duration, bool) {
	digits, _, found := strings.Cut(tripID, "_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return ParseOriginTime(n), true
}

// BusOriginTime extracts the origin time from a bus trip id. One of
// the id's underscore groups ends in an HHMMSS timestamp
// ("QV_A6-Weekday-SDon-070500_Q45_552" -> 07:05:00); how many groups
// precede it depends on whether the agency or depot prefix has already
// been stripped, so the groups are scanned in order and the first
// valid timestamp wins. The parser is total: any malformed input
// falls back to midnight, deterministically.
func BusOriginTime(tripID string) time.Duration {
	for _, group := range strings.Split(tripID, "_") {
		segments := strings.Split(group, "-")
		if d, ok := parseHHMMSS(segments[len(segments)-1]); ok {
			return d
		}
	}
	return 0
}

func parseHHMMSS(stamp string) (time.Duration, bool) {
	if len(stamp) != 6 {
		return 0, false
	}
	h, err := strconv.Atoi(stamp[0:2])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(stamp[2:4])
	if err != nil {
		return 0, false
	}
	s, err := strconv.Atoi(stamp[4:6])
	if err != nil {
		return 0, false
	}
	if h > 23 || m > 59 || s > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, true
}

// TripCreatedAt computes a trip's deterministic creation instant: the
// scheduled origin time on the given service date, interpreted in
// America/New_York and converted to UTC. Determinism is what makes
// the trip natural key stable across reprocessing; on a DST fold
// time.Date resolves the ambiguity the same way every time.
func TripCreatedAt(startDate string, origin time.Duration) (time.Time, error) {
	if len(startDate) != 8 {
		return time.Time{}, fmt.Errorf("invalid start date '%s'", startDate)
	}
	year, err := strconv.Atoi(startDate[0:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date '%s'", startDate)
	}
	month, err := strconv.Atoi(startDate[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date '%s'", startDate)
	}
	day, err := strconv.Atoi(startDate[6:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date '%s'", startDate)
	}
	local := time.Date(year, time.Month(month), day, 0, 0, int(origin.Seconds()), 0, nyc)
	return local.UTC(), nil
}

// ServiceDate formats an instant as the GTFS start date it falls on
// in America/New_York.
func ServiceDate(t time.Time) string {
	return t.In(nyc).Format("20060102")
}

// ParseGTFSTime parses an HH:MM:SS start_time, allowing hours >= 24
// as GTFS does.
func ParseGTFSTime(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time '%s'", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time '%s'", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time '%s'", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("invalid time '%s'", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// StripSourcePrefix removes the upstream agency prefix from an id.
// MTA feeds qualify ids as "{AGENCY}_{NATURAL}"; everything up to and
// including the first underscore goes.
func StripSourcePrefix(id string) string {
	if _, rest, found := strings.Cut(id, "_"); found {
		return rest
	}
	return id
}
