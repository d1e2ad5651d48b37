// Package api serves the read endpoints: thin JSON views over the
// stores, cached whenever the request does not shift the time anchor.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transithub.dev/transithub/model"
	"transithub.dev/transithub/storage"
)

type API struct {
	store  *storage.Store
	logger *slog.Logger
}

func New(store *storage.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: store, logger: logger}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /routes", a.handleRoutes)
	mux.HandleFunc("GET /stops", a.handleStops)
	mux.HandleFunc("GET /trips/{source}", a.handleTrips)
	mux.HandleFunc("GET /stop_times/{source}", a.handleStopTimes)
	mux.HandleFunc("GET /alerts/{source}", a.handleAlerts)
	mux.HandleFunc("GET /positions/{source}", a.handlePositions)
	return mux
}

func (a *API) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := a.store.Routes.All(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if r.URL.Query().Get("geom") != "true" {
		for i := range routes {
			routes[i].Geom = nil
		}
	}
	a.writeJSON(w, r, routes)
}

func (a *API) handleStops(w http.ResponseWriter, r *http.Request) {
	stops, err := a.store.Stops.All(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, r, stops)
}

func (a *API) handleTrips(w http.ResponseWriter, r *http.Request) {
	src, ok := a.source(w, r)
	if !ok {
		return
	}
	at, anchored := a.at(r)
	finished := r.URL.Query().Get("finished") == "true"

	load := func(ctx context.Context) ([]model.Trip, error) {
		return a.store.Trips.Active(ctx, src, at, finished)
	}
	var trips []model.Trip
	var err error
	if !anchored && !finished {
		trips, err = storage.Cached(r.Context(), a.store.Cache,
			storage.CacheKey("trips", src), storage.RealtimeTTL, load)
	} else {
		trips, err = load(r.Context())
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, r, trips)
}

func (a *API) handleStopTimes(w http.ResponseWriter, r *http.Request) {
	src, ok := a.source(w, r)
	if !ok {
		return
	}
	at, anchored := a.at(r)
	routeIDs := csvParam(r.URL.Query().Get("route_ids"))
	futureOnly := r.URL.Query().Get("filter_arrival") == "true"

	load := func(ctx context.Context) ([]model.StopTime, error) {
		return a.store.Trips.StopTimes(ctx, src, routeIDs, at, futureOnly)
	}
	var stopTimes []model.StopTime
	var err error
	if !anchored && len(routeIDs) == 0 && !futureOnly {
		stopTimes, err = storage.Cached(r.Context(), a.store.Cache,
			storage.CacheKey("stop_times", src), storage.RealtimeTTL, load)
	} else {
		stopTimes, err = load(r.Context())
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, r, stopTimes)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	src, ok := a.source(w, r)
	if !ok {
		return
	}
	at, anchored := a.at(r)

	load := func(ctx context.Context) ([]storage.AlertRecord, error) {
		return a.store.Alerts.ActiveAt(ctx, src, at)
	}
	var alerts []storage.AlertRecord
	var err error
	if !anchored {
		alerts, err = storage.Cached(r.Context(), a.store.Cache,
			storage.CacheKey("alerts", src), storage.RealtimeTTL, load)
	} else {
		alerts, err = load(r.Context())
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, r, alerts)
}

func (a *API) handlePositions(w http.ResponseWriter, r *http.Request) {
	src, ok := a.source(w, r)
	if !ok {
		return
	}
	positions, err := storage.Cached(r.Context(), a.store.Cache,
		storage.CacheKey("positions", src), storage.RealtimeTTL,
		func(ctx context.Context) ([]model.VehiclePosition, error) {
			return a.store.Positions.BySource(ctx, src)
		})
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, r, positions)
}

func (a *API) source(w http.ResponseWriter, r *http.Request) (model.Source, bool) {
	src, err := model.ParseSource(r.PathValue("source"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return src, true
}

// at reads the Unix-seconds time anchor. Absent means now and leaves
// the response cache-eligible. A malformed value is a client hint, not
// a contract violation: it is logged and treated as now.
func (a *API) at(r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return time.Now().UTC(), false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.logger.Warn("ignoring invalid at param", "at", raw, "path", r.URL.Path)
		return time.Now().UTC(), true
	}
	return time.Unix(secs, 0).UTC(), true
}

func csvParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
