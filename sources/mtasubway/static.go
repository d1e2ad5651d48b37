package mtasubway

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/storage"
)

const gtfsBundleURL = "http://web.mta.info/developers/data/nyct/subway/google_transit.zip"

// Static imports the subway bundle: routes, stations, and transfers
// from the GTFS ZIP, route shapes from shapes.txt, and per-route stop
// metadata from the MTA's internal schedule APIs.
type Static struct {
	store   *storage.Store
	fetcher *fetch.Client
	logger  *slog.Logger
}

func NewStatic(store *storage.Store, fetcher *fetch.Client, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{store: store, fetcher: fetcher, logger: logger.With("source", model.SourceMtaSubway)}
}

func (s *Static) Source() model.Source           { return model.SourceMtaSubway }
func (s *Static) RefreshInterval() time.Duration { return 24 * time.Hour }

type routeCSV struct {
	ID        string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Color     string `csv:"route_color"`
}

type stopCSV struct {
	ID            string  `csv:"stop_id"`
	Name          string  `csv:"stop_name"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
}

type transferCSV struct {
	FromStopID      string `csv:"from_stop_id"`
	ToStopID        string `csv:"to_stop_id"`
	TransferType    int    `csv:"transfer_type"`
	MinTransferTime *int   `csv:"min_transfer_time"`
}

type tripCSV struct {
	RouteID string `csv:"route_id"`
	ShapeID string `csv:"shape_id"`
}

type shapePointCSV struct {
	ShapeID  string  `csv:"shape_id"`
	Lat      float64 `csv:"shape_pt_lat"`
	Lon      float64 `csv:"shape_pt_lon"`
	Sequence int     `csv:"shape_pt_sequence"`
}

func (s *Static) Import(ctx context.Context) error {
	body, err := s.fetcher.Get(ctx, gtfsBundleURL, nil)
	if err != nil {
		return fmt.Errorf("downloading bundle: %w", err)
	}

	bundle, err := newBundle(body)
	if err != nil {
		return err
	}

	routes, err := s.buildRoutes(bundle)
	if err != nil {
		return err
	}
	stops, err := s.buildStops(bundle)
	if err != nil {
		return err
	}
	transfers, err := s.buildTransfers(bundle)
	if err != nil {
		return err
	}

	// Stop metadata and route membership come from the schedule APIs.
	// They are an enrichment; when one fails the bundle still lands.
	routeStops := s.enrichFromScheduleAPI(ctx, routes, stops)

	if err := s.store.Routes.SaveAll(ctx, routes); err != nil {
		return err
	}
	if err := s.store.Stops.SaveAll(ctx, stops); err != nil {
		return err
	}
	if err := s.store.Stops.SaveRouteStops(ctx, routeStops); err != nil {
		return err
	}
	if err := s.store.Stops.SaveTransfers(ctx, transfers); err != nil {
		return err
	}
	return nil
}

// bundle gives CSV access into the GTFS ZIP.
type bundle struct {
	files map[string]*zip.File
}

func newBundle(buf []byte) (*bundle, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping bundle: %w", err)
	}
	b := &bundle{files: map[string]*zip.File{}}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		b.files[path[len(path)-1]] = f
	}
	return b, nil
}

// parseCSV unmarshals one bundle file into out, a pointer to a slice
// of CSV row structs. The lazy reader survives sloppy quoting and the
// BOM reader strips unicode BOMs.
func (b *bundle) parseCSV(name string, out any) error {
	f, ok := b.files[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening %s", name)
	}
	defer rc.Close()

	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
	if err := gocsv.Unmarshal(rc, out); err != nil {
		return errors.Wrapf(err, "unmarshaling %s", name)
	}
	return nil
}

// buildRoutes folds express variants into their base route: when both
// "6" and "6X" ship, the base row wins and the variant only sets the
// express flag; a variant without a base keeps its normalized id.
func (s *Static) buildRoutes(b *bundle) ([]model.Route, error) {
	var rows []*routeCSV
	if err := b.parseCSV("routes.txt", &rows); err != nil {
		return nil, err
	}

	shapes, err := s.buildShapes(b)
	if err != nil {
		return nil, err
	}

	byID := map[string]model.Route{}
	express := map[string]bool{}
	var order []string
	for _, row := range rows {
		id, isExpress := NormalizeRouteID(row.ID)
		if isExpress {
			express[id] = true
		}
		if _, exists := byID[id]; exists && isExpress {
			continue
		}
		if _, exists := byID[id]; !exists {
			order = append(order, id)
		}
		byID[id] = model.Route{
			ID:        id,
			Source:    model.SourceMtaSubway,
			LongName:  row.LongName,
			ShortName: row.ShortName,
			Color:     RouteColor(id, row.Color),
			Geom:      shapes[id],
		}
	}

	routes := make([]model.Route, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Data = model.SubwayRouteData{Express: express[id]}
		routes = append(routes, r)
	}
	return routes, nil
}

// buildShapes assembles one WKB multi-linestring per route out of
// shapes.txt, using trips.txt to learn which shapes belong to which
// route.
func (s *Static) buildShapes(b *bundle) (map[string][]byte, error) {
	var trips []*tripCSV
	if err := b.parseCSV("trips.txt", &trips); err != nil {
		return nil, err
	}
	var points []*shapePointCSV
	if err := b.parseCSV("shapes.txt", &points); err != nil {
		return nil, err
	}

	shapeRoutes := map[string]string{}
	for _, t := range trips {
		if t.ShapeID == "" {
			continue
		}
		routeID, _ := NormalizeRouteID(t.RouteID)
		shapeRoutes[t.ShapeID] = routeID
	}

	byShape := map[string][]*shapePointCSV{}
	for _, p := range points {
		byShape[p.ShapeID] = append(byShape[p.ShapeID], p)
	}

	lines := map[string][][]model.Point{}
	shapeIDs := make([]string, 0, len(byShape))
	for shapeID := range byShape {
		shapeIDs = append(shapeIDs, shapeID)
	}
	sort.Strings(shapeIDs)
	for _, shapeID := range shapeIDs {
		routeID, ok := shapeRoutes[shapeID]
		if !ok {
			continue
		}
		pts := byShape[shapeID]
		sort.Slice(pts, func(i, j int) bool { return pts[i].Sequence < pts[j].Sequence })
		line := make([]model.Point, len(pts))
		for i, p := range pts {
			line[i] = model.Point{Lon: p.Lon, Lat: p.Lat}
		}
		lines[routeID] = append(lines[routeID], line)
	}

	geoms := map[string][]byte{}
	for routeID, routeLines := range lines {
		geoms[routeID] = model.EncodeWKBMultiLineString(routeLines)
	}
	return geoms, nil
}

// buildStops keeps stations only. Platform rows carry a parent
// station and the realtime feeds address stations once their platform
// suffix is stripped, so platforms would be dead rows.
func (s *Static) buildStops(b *bundle) ([]model.Stop, error) {
	var rows []*stopCSV
	if err := b.parseCSV("stops.txt", &rows); err != nil {
		return nil, err
	}

	stops := make([]model.Stop, 0, len(rows))
	for _, row := range rows {
		if row.ParentStation != "" && row.LocationType != 1 {
			continue
		}
		stops = append(stops, model.Stop{
			ID:     row.ID,
			Source: model.SourceMtaSubway,
			Name:   row.Name,
			Lat:    row.Lat,
			Lon:    row.Lon,
			Data:   model.SubwayStopData{},
		})
	}
	return stops, nil
}

func (s *Static) buildTransfers(b *bundle) ([]model.StopTransfer, error) {
	var rows []*transferCSV
	if err := b.parseCSV("transfers.txt", &rows); err != nil {
		return nil, err
	}

	transfers := make([]model.StopTransfer, 0, len(rows))
	for _, row := range rows {
		transfers = append(transfers, model.StopTransfer{
			FromStopID:      row.FromStopID,
			FromSource:      model.SourceMtaSubway,
			ToStopID:        row.ToStopID,
			ToSource:        model.SourceMtaSubway,
			TransferType:    row.TransferType,
			MinTransferTime: row.MinTransferTime,
		})
	}
	return transfers, nil
}
