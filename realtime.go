package transithub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/storage"
)

// tripSaver is the slice of the trip store the pipeline needs.
type tripSaver interface {
	SaveAll(ctx context.Context, trips []model.Trip) (map[uuid.UUID]uuid.UUID, error)
	SaveStopTimes(ctx context.Context, stopTimes []model.StopTime) error
}

type positionSaver interface {
	SaveAll(ctx context.Context, positions []model.VehiclePosition) error
}

type ensurer interface {
	EnsureUpdated(ctx context.Context, src model.Source) error
	Refresh(ctx context.Context, src model.Source) error
}

// RealtimePipeline runs one source's realtime cycle: fetch every feed,
// normalize entities through the adapter, persist trips then stop
// times then positions. A foreign key violation on persist means the
// static tables are behind the feed; the pipeline forces one static
// refresh and retries the batch once.
type RealtimePipeline struct {
	adapter   RealtimeAdapter
	fetcher   *fetch.Client
	trips     tripSaver
	positions positionSaver
	static    ensurer
	logger    *slog.Logger
}

func NewRealtimePipeline(adapter RealtimeAdapter, fetcher *fetch.Client, store *storage.Store, static *StaticController, logger *slog.Logger) *RealtimePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimePipeline{
		adapter:   adapter,
		fetcher:   fetcher,
		trips:     store.Trips,
		positions: store.Positions,
		static:    static,
		logger:    logger.With("source", adapter.Source(), "pipeline", "realtime"),
	}
}

func (p *RealtimePipeline) Source() model.Source            { return p.adapter.Source() }
func (p *RealtimePipeline) RefreshInterval() time.Duration  { return p.adapter.RefreshInterval() }

// Run executes one cycle.
func (p *RealtimePipeline) Run(ctx context.Context) error {
	if err := p.static.EnsureUpdated(ctx, p.adapter.Source()); err != nil {
		return fmt.Errorf("ensuring static data: %w", err)
	}

	if preparer, ok := p.adapter.(CyclePreparer); ok {
		if err := preparer.PrepareCycle(ctx); err != nil {
			p.logger.Warn("cycle preparation failed", "error", err)
		}
	}

	feeds := fetchFeeds(ctx, p.fetcher, p.adapter.FeedURLs(), p.logger)

	var (
		trips     []model.Trip
		stopTimes []model.StopTime
		updates   []PositionUpdate
	)
	for _, feed := range feeds {
		recordedAt := feedTime(feed)
		for _, entity := range feed.GetEntity() {
			switch {
			case entity.GetTripUpdate() != nil:
				trip, sts, err := p.adapter.ProcessTrip(entity, recordedAt)
				if err != nil {
					p.logger.Warn("skipping trip update", "entity", entity.GetId(), "error", err)
					continue
				}
				if trip == nil {
					continue
				}
				trips = append(trips, *trip)
				stopTimes = append(stopTimes, sts...)
			case entity.GetVehicle() != nil:
				update, err := p.adapter.ProcessVehicle(entity, recordedAt)
				if err != nil {
					p.logger.Warn("skipping vehicle position", "entity", entity.GetId(), "error", err)
					continue
				}
				if update == nil {
					continue
				}
				updates = append(updates, *update)
			}
		}
	}

	err := p.persist(ctx, trips, stopTimes, updates)
	if storage.IsFKViolation(err) {
		p.logger.Info("write hit missing static data, refreshing", "error", err)
		if rerr := p.static.Refresh(ctx, p.adapter.Source()); rerr != nil {
			return fmt.Errorf("refreshing static data: %w", rerr)
		}
		err = p.persist(ctx, trips, stopTimes, updates)
	}
	if err != nil {
		return err
	}

	p.logger.Debug("cycle complete",
		"trips", len(trips), "stop_times", len(stopTimes), "positions", len(updates))
	return nil
}

// persist leaves its inputs untouched so the retry path can replay
// them. The feeds repeat entities across a cycle; rows are collapsed
// onto their natural keys first, because the single-statement upserts
// cannot affect the same row twice. The last occurrence wins.
func (p *RealtimePipeline) persist(ctx context.Context, trips []model.Trip, stopTimes []model.StopTime, updates []PositionUpdate) error {
	deduped := make([]model.Trip, 0, len(trips))
	byKey := make(map[TripKey]int, len(trips))
	canonical := make(map[uuid.UUID]uuid.UUID, len(trips))
	for i := range trips {
		key := KeyOf(&trips[i])
		if j, ok := byKey[key]; ok {
			canonical[trips[i].ID] = deduped[j].ID
			id := deduped[j].ID
			deduped[j] = trips[i]
			deduped[j].ID = id
			continue
		}
		byKey[key] = len(deduped)
		deduped = append(deduped, trips[i])
	}

	proposed := make(map[TripKey]uuid.UUID, len(deduped))
	for i := range deduped {
		proposed[KeyOf(&deduped[i])] = deduped[i].ID
	}

	idMap, err := p.trips.SaveAll(ctx, deduped)
	if err != nil {
		return fmt.Errorf("saving trips: %w", err)
	}

	type stopSlot struct {
		trip uuid.UUID
		stop string
	}
	remapped := make([]model.StopTime, 0, len(stopTimes))
	bySlot := make(map[stopSlot]int, len(stopTimes))
	for _, st := range stopTimes {
		if id, ok := canonical[st.TripID]; ok {
			st.TripID = id
		}
		if actual, ok := idMap[st.TripID]; ok {
			st.TripID = actual
		}
		slot := stopSlot{trip: st.TripID, stop: st.StopID}
		if j, ok := bySlot[slot]; ok {
			remapped[j] = st
			continue
		}
		bySlot[slot] = len(remapped)
		remapped = append(remapped, st)
	}
	if err := p.trips.SaveStopTimes(ctx, remapped); err != nil {
		return fmt.Errorf("saving stop times: %w", err)
	}

	positions := make([]model.VehiclePosition, 0, len(updates))
	byVehicle := make(map[string]int, len(updates))
	for _, u := range updates {
		pos := u.Position
		if u.TripKey != nil {
			if id, ok := proposed[*u.TripKey]; ok {
				if actual, ok := idMap[id]; ok {
					id = actual
				}
				tripID := id
				pos.TripID = &tripID
			}
		}
		if j, ok := byVehicle[pos.VehicleID]; ok {
			positions[j] = pos
			continue
		}
		byVehicle[pos.VehicleID] = len(positions)
		positions = append(positions, pos)
	}
	if err := p.positions.SaveAll(ctx, positions); err != nil {
		return fmt.Errorf("saving positions: %w", err)
	}
	return nil
}

// fetchFeeds downloads every feed concurrently. A failed feed is
// logged and dropped; the cycle proceeds with whatever arrived.
func fetchFeeds(ctx context.Context, fetcher *fetch.Client, urls []FeedURL, logger *slog.Logger) []*gtfsrt.FeedMessage {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		feeds []*gtfsrt.FeedMessage
	)
	for _, fu := range urls {
		wg.Add(1)
		go func(fu FeedURL) {
			defer wg.Done()
			feed, err := fetcher.GetFeed(ctx, fu.URL, nil, fu.Name)
			if err != nil {
				logger.Warn("fetching feed", "feed", fu.Name, "error", err)
				return
			}
			mu.Lock()
			feeds = append(feeds, feed)
			mu.Unlock()
		}(fu)
	}
	wg.Wait()
	return feeds
}

// feedTime is the feed header timestamp, or now when the header lacks
// one.
func feedTime(feed *gtfsrt.FeedMessage) time.Time {
	if ts := feed.GetHeader().GetTimestamp(); ts != 0 {
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.Now().UTC()
}
