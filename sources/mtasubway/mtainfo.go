package mtasubway

import (
	"context"
	"fmt"
	"net/url"

	"transithub.dev/transithub/model"
)

// The MTA's internal schedule APIs, as used by the official app. They
// carry what the GTFS bundle does not: which stops a route serves and
// how, accessibility, advisories, and platform headsigns.
const (
	stopsForRouteURL = "https://collector-otp-prod.camsys-apps.com/schedule/MTASBWY/stopsForRoute?routeId=MTASBWY:%s"
	nearbyURL        = "https://otp-mta-prod.camsys-apps.com/otp/routers/default/nearby?stops=MTASBWY:%s"
)

type stopsForRouteResponse struct {
	RouteID string `json:"routeId"`
	Stops   []struct {
		StopID   string `json:"stopId"`
		Sequence int    `json:"sequence"`
		StopType int    `json:"stopType"`
		ADA      bool   `json:"ada"`
		Notes    string `json:"notes"`
		Borough  string `json:"borough"`
	} `json:"stops"`
}

type nearbyResponse struct {
	Groups []struct {
		Direction string `json:"direction"`
		Headsign  string `json:"headsign"`
	} `json:"groups"`
}

// How a route serves a stop, in the schedule API's encoding.
var stopTypes = map[int]model.StopType{
	0: model.StopTypeAllTrips,
	1: model.StopTypeSomeTrips,
	2: model.StopTypeRushHour,
	3: model.StopTypeRushHourOneWay,
	4: model.StopTypeNights,
	5: model.StopTypeNoTrips,
}

var boroughs = map[string]model.Borough{
	"Bx": model.BoroughBronx,
	"Bk": model.BoroughBrooklyn,
	"M":  model.BoroughManhattan,
	"Q":  model.BoroughQueens,
	"SI": model.BoroughStatenIsland,
}

// enrichFromScheduleAPI fills stop metadata in place and returns the
// route membership rows. Failures degrade to the plain bundle; they
// are logged, never fatal.
func (s *Static) enrichFromScheduleAPI(ctx context.Context, routes []model.Route, stops []model.Stop) []model.RouteStop {
	stopIndex := map[string]int{}
	for i := range stops {
		stopIndex[stops[i].ID] = i
	}
	meta := map[string]model.SubwayStopData{}

	var routeStops []model.RouteStop
	for _, route := range routes {
		var resp stopsForRouteResponse
		u := fmt.Sprintf(stopsForRouteURL, url.QueryEscape(route.ID))
		if err := s.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
			s.logger.Warn("fetching stops for route", "route", route.ID, "error", err)
			continue
		}
		for _, entry := range resp.Stops {
			stopID, _, ok := NormalizeStopID(model.StripSourcePrefix(entry.StopID))
			if !ok {
				continue
			}
			if _, known := stopIndex[stopID]; !known {
				continue
			}
			stopType, ok := stopTypes[entry.StopType]
			if !ok {
				stopType = model.StopTypeAllTrips
			}
			routeStops = append(routeStops, model.RouteStop{
				RouteID:      route.ID,
				Source:       model.SourceMtaSubway,
				StopID:       stopID,
				StopSequence: entry.Sequence,
				Data:         model.SubwayRouteStopData{StopType: stopType},
			})

			data := meta[stopID]
			data.Ada = data.Ada || entry.ADA
			if entry.Notes != "" {
				data.Notes = entry.Notes
			}
			if borough, ok := boroughs[entry.Borough]; ok {
				data.Borough = borough
			}
			meta[stopID] = data
		}
	}

	for i := range stops {
		data := meta[stops[i].ID]
		s.fillHeadsigns(ctx, stops[i].ID, &data)
		stops[i].Data = data
	}
	return routeStops
}

func (s *Static) fillHeadsigns(ctx context.Context, stopID string, data *model.SubwayStopData) {
	var resp nearbyResponse
	u := fmt.Sprintf(nearbyURL, url.QueryEscape(stopID))
	if err := s.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
		s.logger.Warn("fetching headsigns", "stop", stopID, "error", err)
		return
	}
	for _, group := range resp.Groups {
		switch group.Direction {
		case "N":
			data.NorthHeadsign = group.Headsign
		case "S":
			data.SouthHeadsign = group.Headsign
		}
	}
}
