package mtabus

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/storage"
)

// Static imports the bus network from the OneBusAway discovery API:
// routes per agency, then stops and direction groupings per route.
type Static struct {
	store  *storage.Store
	oba    *obaClient
	logger *slog.Logger
}

func NewStatic(store *storage.Store, fetcher *fetch.Client, apiKey string, logger *slog.Logger) (*Static, error) {
	oba, err := newOBAClient(fetcher, apiKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{store: store, oba: oba, logger: logger.With("source", model.SourceMtaBus)}, nil
}

func (s *Static) Source() model.Source           { return model.SourceMtaBus }
func (s *Static) RefreshInterval() time.Duration { return 24 * time.Hour }

func (s *Static) Import(ctx context.Context) error {
	var (
		routes     []model.Route
		routeStops []model.RouteStop
		stops      []model.Stop
		seenStops  = map[string]bool{}
	)

	for _, agency := range obaAgencies {
		agencyRoutes, err := s.oba.routesForAgency(ctx, agency)
		if err != nil {
			return err
		}

		for _, raw := range agencyRoutes {
			routeID := model.StripSourcePrefix(raw.ID)
			color := ""
			if raw.Color != "" {
				color = "#" + raw.Color
			}
			routes = append(routes, model.Route{
				ID:        routeID,
				Source:    model.SourceMtaBus,
				LongName:  raw.LongName,
				ShortName: raw.ShortName,
				Color:     color,
				Data:      model.BusRouteData{Shuttle: isShuttle(raw)},
			})

			detail, err := s.oba.stopsForRoute(ctx, raw.ID)
			if err != nil {
				// One broken route should not sink the import.
				s.logger.Warn("skipping route stops", "route", routeID, "error", err)
				continue
			}

			for _, raw := range detail.References.Stops {
				stopID := model.StripSourcePrefix(raw.ID)
				if seenStops[stopID] {
					continue
				}
				seenStops[stopID] = true
				stops = append(stops, model.Stop{
					ID:     stopID,
					Source: model.SourceMtaBus,
					Name:   raw.Name,
					Lat:    raw.Lat,
					Lon:    raw.Lon,
					Data:   model.BusStopData{Direction: compassOf(raw.Direction)},
				})
			}

			routeStops = append(routeStops, groupRouteStops(routeID, detail)...)
		}
	}

	if err := s.store.Routes.SaveAll(ctx, routes); err != nil {
		return err
	}
	if err := s.store.Stops.SaveAll(ctx, stops); err != nil {
		return err
	}
	return s.store.Stops.SaveRouteStops(ctx, routeStops)
}

// groupRouteStops flattens the direction groupings into ordered
// membership rows. A stop served in both directions keeps its first
// grouping's row; the membership key has no direction column.
func groupRouteStops(routeID string, detail *obaStopsForRoute) []model.RouteStop {
	var out []model.RouteStop
	seen := map[string]bool{}
	for _, grouping := range detail.Entry.StopGroupings {
		if grouping.Type != "direction" {
			continue
		}
		for _, group := range grouping.StopGroups {
			direction, err := strconv.Atoi(group.ID)
			if err != nil {
				continue
			}
			for i, rawStopID := range group.StopIDs {
				stopID := model.StripSourcePrefix(rawStopID)
				if stopID == "" || seen[stopID] {
					continue
				}
				seen[stopID] = true
				out = append(out, model.RouteStop{
					RouteID:      routeID,
					Source:       model.SourceMtaBus,
					StopID:       stopID,
					StopSequence: i,
					Data: model.BusRouteStopData{
						Headsign:  group.Name.Name,
						Direction: int16(direction),
					},
				})
			}
		}
	}
	return out
}

func isShuttle(r obaRoute) bool {
	haystack := strings.ToLower(r.ShortName + " " + r.LongName + " " + r.Description)
	return strings.Contains(haystack, "shuttle")
}

// compassOf folds the API's eight-way headings onto the four the
// model keeps.
func compassOf(direction string) model.CompassDirection {
	if direction == "" {
		return ""
	}
	switch direction[0] {
	case 'N':
		return model.CompassNorth
	case 'E':
		return model.CompassEast
	case 'S':
		return model.CompassSouth
	case 'W':
		return model.CompassWest
	}
	return ""
}
