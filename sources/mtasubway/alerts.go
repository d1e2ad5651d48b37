package mtasubway

import (
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"transithub.dev/transithub"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/sources/mercury"
)

const alertsURL = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/camsys%2Fsubway-alerts"

// Alerts normalizes subway service alerts.
type Alerts struct {
	processor *mercury.Processor
}

func NewAlerts() *Alerts {
	return &Alerts{
		processor: &mercury.Processor{
			Source: model.SourceMtaSubway,
			Route: func(id string) (string, bool) {
				// Alerts reference MTASBWY-qualified ids on occasion.
				normalized, _ := NormalizeRouteID(model.StripSourcePrefix(id))
				return normalized, normalized != ""
			},
			Stop: func(id string) (string, bool) {
				stopID, _, ok := NormalizeStopID(model.StripSourcePrefix(id))
				return stopID, ok
			},
		},
	}
}

func (a *Alerts) Source() model.Source           { return model.SourceMtaSubway }
func (a *Alerts) RefreshInterval() time.Duration { return time.Minute }

func (a *Alerts) FeedURLs() []transithub.FeedURL {
	return []transithub.FeedURL{{Name: "nyct-alerts", URL: alertsURL}}
}

func (a *Alerts) ProcessAlert(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*transithub.AlertEntry, error) {
	return a.processor.Process(entity, recordedAt)
}
