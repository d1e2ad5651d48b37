// Package mtasubway adapts the NYCT subway feeds: GTFS-Realtime trip
// updates with the NYCT extension, Mercury service alerts, and static
// data from the GTFS bundle plus the MTA's internal schedule APIs.
package mtasubway

import (
	"strings"
)

// The feeds predate a few renames and still carry ghost identifiers.
// SS is the Staten Island Railway's old route id; a trailing X marks
// the express variant of a route.
//
// Shuttles and the SIR ship without a usable color in routes.txt.
var specialRouteColors = map[string]string{
	"SI": "#0039A6",
	"FS": "#808183",
	"H":  "#808183",
}

// Stop ids the realtime feeds emit that have never existed in the
// static bundle. Mostly planned or demolished platforms.
var fakeStops = map[string]bool{
	"056": true, "103": true, "140": true, "141": true,
	"226": true, "227": true, "427": true, "718": true,
	"724": true, "725": true, "726": true, "B91": true,
	"B92": true, "D60": true, "E01": true, "F17": true,
	"H19": true, "H20": true, "M07": true, "M08": true,
	"N12": true, "R60": true, "R65": true, "S0M": true,
	"S4A": true, "X01": true, "X22": true, "X30": true,
}

// NormalizeRouteID maps a feed route id onto the static bundle's id
// space. The second return reports the express variant.
func NormalizeRouteID(id string) (string, bool) {
	if id == "SS" {
		return "SI", false
	}
	if len(id) > 1 && strings.HasSuffix(id, "X") {
		return id[:len(id)-1], true
	}
	return id, false
}

// RouteColor prefixes the GTFS hex color with '#', falling back to the
// hardwired colors for routes whose bundle entry has none.
func RouteColor(id, gtfsColor string) string {
	if gtfsColor != "" {
		return "#" + gtfsColor
	}
	if color, ok := specialRouteColors[id]; ok {
		return color
	}
	return ""
}

// Directions in the NYCT extension's encoding.
const (
	DirectionNorth int16 = 1
	DirectionSouth int16 = 3
)

// NormalizeStopID strips the direction suffix from a platform id
// ("127N" -> "127") and reports the direction the suffix encoded.
// Fake stops come back not-ok.
func NormalizeStopID(id string) (stopID string, direction *int16, ok bool) {
	if n := len(id); n > 1 {
		switch id[n-1] {
		case 'N':
			d := DirectionNorth
			direction = &d
			id = id[:n-1]
		case 'S':
			d := DirectionSouth
			direction = &d
			id = id[:n-1]
		}
	}
	if fakeStops[id] {
		return "", nil, false
	}
	return id, direction, true
}
