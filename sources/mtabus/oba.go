// Package mtabus adapts the MTA bus feeds: GTFS-Realtime trip updates
// and vehicle positions, OneBusAway JSON for static data and
// per-vehicle occupancy, Mercury service alerts, and optionally SIRI
// vehicle monitoring for progress status.
package mtabus

import (
	"context"
	"fmt"
	"net/url"

	"transithub.dev/transithub/fetch"
)

const obaBase = "http://bustime.mta.info/api/where"

// The bus network is split across two operating agencies; both have
// to be queried for full coverage.
var obaAgencies = []string{"MTA NYCT", "MTABC"}

// obaClient speaks the OneBusAway discovery API.
type obaClient struct {
	fetcher *fetch.Client
	key     string
}

func newOBAClient(fetcher *fetch.Client, key string) (*obaClient, error) {
	if key == "" {
		return nil, fmt.Errorf("bus API key is required")
	}
	return &obaClient{fetcher: fetcher, key: key}, nil
}

type obaRoute struct {
	ID          string `json:"id"`
	ShortName   string `json:"shortName"`
	LongName    string `json:"longName"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Type        int    `json:"type"`
}

type obaStop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Direction string  `json:"direction"`
}

type obaStopGroup struct {
	ID   string `json:"id"`
	Name struct {
		Name string `json:"name"`
	} `json:"name"`
	StopIDs []string `json:"stopIds"`
}

type obaStopsForRoute struct {
	Entry struct {
		StopGroupings []struct {
			Type       string         `json:"type"`
			StopGroups []obaStopGroup `json:"stopGroups"`
		} `json:"stopGroupings"`
	} `json:"entry"`
	References struct {
		Stops []obaStop `json:"stops"`
	} `json:"references"`
}

type obaVehicle struct {
	VehicleID string `json:"vehicleId"`
	Location  struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`
	TripStatus struct {
		ActiveTripID      string `json:"activeTripId"`
		Status            string `json:"status"`
		Phase             string `json:"phase"`
		OccupancyCount    *int   `json:"occupancyCount"`
		OccupancyCapacity *int   `json:"occupancyCapacity"`
		LastUpdateTime    int64  `json:"lastUpdateTime"`
	} `json:"tripStatus"`
}

func (c *obaClient) routesForAgency(ctx context.Context, agency string) ([]obaRoute, error) {
	var resp struct {
		Data struct {
			List []obaRoute `json:"list"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/routes-for-agency/%s.json?key=%s",
		obaBase, url.PathEscape(agency), url.QueryEscape(c.key))
	if err := c.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching routes for %s: %w", agency, err)
	}
	return resp.Data.List, nil
}

func (c *obaClient) stopsForRoute(ctx context.Context, routeID string) (*obaStopsForRoute, error) {
	var resp struct {
		Data obaStopsForRoute `json:"data"`
	}
	u := fmt.Sprintf("%s/stops-for-route/%s.json?key=%s&includePolylines=false",
		obaBase, url.PathEscape(routeID), url.QueryEscape(c.key))
	if err := c.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching stops for %s: %w", routeID, err)
	}
	return &resp.Data, nil
}

func (c *obaClient) vehiclesForAgency(ctx context.Context, agency string) ([]obaVehicle, error) {
	var resp struct {
		Data struct {
			List []obaVehicle `json:"list"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/vehicles-for-agency/%s.json?key=%s",
		obaBase, url.PathEscape(agency), url.QueryEscape(c.key))
	if err := c.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching vehicles for %s: %w", agency, err)
	}
	return resp.Data.List, nil
}
