package transithub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/model"
	"transithub.dev/transithub/storage"
)

type alertSaver interface {
	SaveAll(ctx context.Context, src model.Source, batch storage.AlertBatch) error
}

// AlertPipeline runs one source's alert cycle. Two feed behaviors get
// normalized away here rather than in the adapters: the same alert
// appearing more than once in a cycle, and "clone" alerts that replace
// an earlier alert under a fresh original id.
type AlertPipeline struct {
	adapter AlertAdapter
	fetcher *fetch.Client
	alerts  alertSaver
	static  ensurer
	logger  *slog.Logger
}

func NewAlertPipeline(adapter AlertAdapter, fetcher *fetch.Client, store *storage.Store, static *StaticController, logger *slog.Logger) *AlertPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPipeline{
		adapter: adapter,
		fetcher: fetcher,
		alerts:  store.Alerts,
		static:  static,
		logger:  logger.With("source", adapter.Source(), "pipeline", "alerts"),
	}
}

func (p *AlertPipeline) Source() model.Source           { return p.adapter.Source() }
func (p *AlertPipeline) RefreshInterval() time.Duration { return p.adapter.RefreshInterval() }

// Run executes one cycle.
func (p *AlertPipeline) Run(ctx context.Context) error {
	if err := p.static.EnsureUpdated(ctx, p.adapter.Source()); err != nil {
		return fmt.Errorf("ensuring static data: %w", err)
	}

	feeds := fetchFeeds(ctx, p.fetcher, p.adapter.FeedURLs(), p.logger)

	var entries []AlertEntry
	for _, feed := range feeds {
		recordedAt := feedTime(feed)
		for _, entity := range feed.GetEntity() {
			if entity.GetAlert() == nil {
				continue
			}
			entry, err := p.adapter.ProcessAlert(entity, recordedAt)
			if err != nil {
				p.logger.Warn("skipping alert", "entity", entity.GetId(), "error", err)
				continue
			}
			if entry == nil {
				continue
			}
			entries = append(entries, *entry)
		}
	}

	// No entries means every feed failed or came back empty; there is
	// nothing to write and no reason to churn the cache.
	if len(entries) == 0 {
		p.logger.Debug("cycle complete", "alerts", 0)
		return nil
	}

	batch := assembleAlertBatch(entries)
	if err := p.alerts.SaveAll(ctx, p.adapter.Source(), batch); err != nil {
		return fmt.Errorf("saving alerts: %w", err)
	}

	p.logger.Debug("cycle complete", "alerts", len(batch.Alerts), "superseded", len(batch.Cloned))
	return nil
}

// assembleAlertBatch deduplicates entries on the alert natural key and
// resolves clone supersession. An alert named as another's clone
// target is dropped from the batch and queued for deletion; its clone
// carries the current truth.
func assembleAlertBatch(entries []AlertEntry) storage.AlertBatch {
	cloned := map[string]bool{}
	for _, e := range entries {
		if id := e.Alert.Data.CloneID; id != "" {
			cloned[id] = true
		}
	}

	type alertKey struct {
		createdAt  time.Time
		originalID string
	}
	seen := map[alertKey]bool{}

	var batch storage.AlertBatch
	for _, e := range entries {
		if cloned[e.Alert.OriginalID] {
			continue
		}
		key := alertKey{createdAt: e.Alert.CreatedAt, originalID: e.Alert.OriginalID}
		if seen[key] {
			continue
		}
		seen[key] = true

		batch.Alerts = append(batch.Alerts, e.Alert)
		batch.Translations = append(batch.Translations, e.Translations...)
		batch.Periods = append(batch.Periods, e.Periods...)
		batch.Entities = append(batch.Entities, e.Entities...)
	}
	for id := range cloned {
		batch.Cloned = append(batch.Cloned, id)
	}
	return batch
}
