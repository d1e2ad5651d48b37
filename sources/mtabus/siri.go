package mtabus

import (
	"context"
	"fmt"
	"net/url"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
)

const siriVehicleMonitoringURL = "http://bustime.mta.info/api/siri/vehicle-monitoring.json"

// siriClient reads the legacy SIRI feed. It only contributes the
// progress status ("layover", "prevTrip") that neither GTFS-Realtime
// nor OneBusAway carries.
type siriClient struct {
	fetcher *fetch.Client
	key     string
}

type siriResponse struct {
	Siri struct {
		ServiceDelivery struct {
			VehicleMonitoringDelivery []struct {
				VehicleActivity []struct {
					MonitoredVehicleJourney struct {
						VehicleRef     string `json:"VehicleRef"`
						ProgressStatus string `json:"ProgressStatus"`
					} `json:"MonitoredVehicleJourney"`
				} `json:"VehicleActivity"`
			} `json:"VehicleMonitoringDelivery"`
		} `json:"ServiceDelivery"`
	} `json:"Siri"`
}

// progressStatuses returns progress status keyed by bare vehicle id.
func (c *siriClient) progressStatuses(ctx context.Context) (map[string]string, error) {
	var resp siriResponse
	u := fmt.Sprintf("%s?key=%s&version=2", siriVehicleMonitoringURL, url.QueryEscape(c.key))
	if err := c.fetcher.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching vehicle monitoring: %w", err)
	}

	statuses := map[string]string{}
	for _, delivery := range resp.Siri.ServiceDelivery.VehicleMonitoringDelivery {
		for _, activity := range delivery.VehicleActivity {
			journey := activity.MonitoredVehicleJourney
			if journey.ProgressStatus == "" {
				continue
			}
			statuses[model.StripSourcePrefix(journey.VehicleRef)] = journey.ProgressStatus
		}
	}
	return statuses, nil
}
