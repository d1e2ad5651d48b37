// Package mercury normalizes MTA service alerts. Both the subway and
// bus alert feeds are GTFS-Realtime with the Mercury extension; the
// per-source adapters only differ in how route and stop ids are
// cleaned up, which they inject here as normalizer hooks.
package mercury

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"google.golang.org/protobuf/proto"

	"transithub.dev/transithub"
	"transithub.dev/transithub/model"
)

// Normalizer cleans one upstream id. ok=false drops the reference.
type Normalizer func(id string) (string, bool)

// Processor turns Mercury alert entities into alert entries for one
// source.
type Processor struct {
	Source model.Source
	// Route and Stop normalize ids on affected entities. Either may
	// be nil for pass-through.
	Route Normalizer
	Stop  Normalizer
}

// Process normalizes one feed entity. Entities without the Mercury
// extension are non-alert noise in these feeds and are skipped.
func (p *Processor) Process(entity *gtfsrt.FeedEntity, recordedAt time.Time) (*transithub.AlertEntry, error) {
	alert := entity.GetAlert()
	if alert == nil || !proto.HasExtension(alert, gtfsrt.E_MercuryAlert) {
		return nil, nil
	}
	merc := proto.GetExtension(alert, gtfsrt.E_MercuryAlert).(*gtfsrt.MercuryAlert)

	createdAt := unixOr(merc.GetCreatedAt(), recordedAt)
	updatedAt := unixOr(merc.GetUpdatedAt(), recordedAt)

	id := model.NewID()
	entry := &transithub.AlertEntry{
		Alert: model.Alert{
			ID:         id,
			OriginalID: entity.GetId(),
			Source:     p.Source,
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
			RecordedAt: recordedAt,
			Data: model.AlertData{
				Src:                 p.Source,
				AlertType:           merc.GetAlertType(),
				DisplayBeforeActive: int(merc.GetDisplayBeforeActive()),
				CloneID:             merc.GetCloneId(),
				InFeed:              true,
			},
		},
	}

	entry.Translations = append(entry.Translations,
		translations(id, model.AlertSectionHeader, alert.GetHeaderText())...)
	entry.Translations = append(entry.Translations,
		translations(id, model.AlertSectionDescription, alert.GetDescriptionText())...)

	for _, period := range alert.GetActivePeriod() {
		if period.GetStart() == 0 {
			continue
		}
		ap := model.ActivePeriod{
			AlertID:   id,
			StartTime: time.Unix(int64(period.GetStart()), 0).UTC(),
		}
		if end := period.GetEnd(); end != 0 {
			t := time.Unix(int64(end), 0).UTC()
			ap.EndTime = &t
		}
		entry.Periods = append(entry.Periods, ap)
	}

	for _, informed := range alert.GetInformedEntity() {
		e := model.AffectedEntity{
			AlertID:   id,
			Source:    p.Source,
			SortOrder: sortOrder(informed),
		}
		if routeID := informed.GetRouteId(); routeID != "" {
			normalized, ok := p.normalizeRoute(routeID)
			if !ok {
				continue
			}
			e.RouteID = &normalized
		}
		if stopID := informed.GetStopId(); stopID != "" {
			normalized, ok := p.normalizeStop(stopID)
			if !ok {
				continue
			}
			e.StopID = &normalized
		}
		if e.RouteID == nil && e.StopID == nil {
			continue
		}
		entry.Entities = append(entry.Entities, e)
	}

	return entry, nil
}

func (p *Processor) normalizeRoute(id string) (string, bool) {
	if p.Route == nil {
		return id, true
	}
	return p.Route(id)
}

func (p *Processor) normalizeStop(id string) (string, bool) {
	if p.Stop == nil {
		return id, true
	}
	return p.Stop(id)
}

// translations splits the feed's language codes into language and
// format: "en" is plain text and "en-html" is the same language with
// HTML markup.
func translations(alertID uuid.UUID, section model.AlertSection, ts *gtfsrt.TranslatedString) []model.AlertTranslation {
	var out []model.AlertTranslation
	for _, tr := range ts.GetTranslation() {
		text := tr.GetText()
		if text == "" {
			continue
		}
		language := tr.GetLanguage()
		if language == "" {
			language = "en"
		}
		format := model.AlertFormatPlain
		if base, found := strings.CutSuffix(language, "-html"); found {
			language = base
			format = model.AlertFormatHTML
		}
		out = append(out, model.AlertTranslation{
			AlertID:  alertID,
			Section:  section,
			Format:   format,
			Language: language,
			Text:     text,
		})
	}
	return out
}

// sortOrder pulls the trailing integer out of the Mercury selector's
// sort order ("MTASBWY:GTFS:priority:21" style).
func sortOrder(informed *gtfsrt.EntitySelector) int {
	if !proto.HasExtension(informed, gtfsrt.E_MercuryEntitySelector) {
		return 0
	}
	selector := proto.GetExtension(informed, gtfsrt.E_MercuryEntitySelector).(*gtfsrt.MercuryEntitySelector)
	raw := selector.GetSortOrder()
	i := strings.LastIndex(raw, ":")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(raw[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func unixOr(ts uint64, fallback time.Time) time.Time {
	if ts == 0 {
		return fallback.UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}
