package mtabus

import (
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"transithub.dev/transithub"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/sources/mercury"
)

const alertsURL = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/camsys%2Fbus-alerts"

// Alerts normalizes bus service alerts. Route and stop references
// arrive agency-qualified ("MTA NYCT_B41", "MTABC_550040").
type Alerts struct {
	processor *mercury.Processor
}

func NewAlerts() *Alerts {
	strip := func(id string) (string, bool) {
		bare := model.StripSourcePrefix(id)
		return bare, bare != ""
	}
	return &Alerts{
		processor: &mercury.Processor{
			Source: model.SourceMtaBus,
			Route:  strip,
			Stop:   strip,
		},
	}
}

func (a *Alerts) Source() model.Source           { return model.SourceMtaBus }
func (a *Alerts) RefreshInterval() time.Duration { return time.Minute }

func (a *Alerts) FeedURLs() []transithub.FeedURL {
	return []transithub.FeedURL{{Name: "bus-alerts", URL: alertsURL}}
}

func (a *Alerts) ProcessAlert(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*transithub.AlertEntry, error) {
	return a.processor.Process(entity, recordedAt)
}
