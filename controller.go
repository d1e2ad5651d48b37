package transithub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"transithub.dev/transithub/model"
)

var (
	ErrUnknownSource    = errors.New("unknown source")
	ErrControllerClosed = errors.New("static controller closed")
)

// Imports run detached from any single waiter's context, but not
// forever.
const importTimeout = 30 * time.Minute

// sourceClock reads and advances a source's static freshness.
type sourceClock interface {
	EnsureRegistered(ctx context.Context, src model.Source) error
	UpdatedAt(ctx context.Context, src model.Source) (time.Time, error)
	Touch(ctx context.Context, src model.Source) error
}

// StaticController serializes static imports per source. Any number of
// callers may demand fresh static data concurrently; at most one
// import runs per source and every concurrent demand receives that
// import's result.
type StaticController struct {
	runners map[model.Source]*staticRunner
}

// NewStaticController starts one runner goroutine per adapter.
func NewStaticController(adapters []StaticAdapter, sources sourceClock, logger *slog.Logger) *StaticController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &StaticController{runners: map[model.Source]*staticRunner{}}
	for _, a := range adapters {
		r := &staticRunner{
			adapter: a,
			sources: sources,
			logger:  logger.With("source", a.Source()),
			cmds:    make(chan ensureReq),
			done:    make(chan struct{}),
		}
		c.runners[a.Source()] = r
		go r.run()
	}
	return c
}

// EnsureUpdated returns once the source's static data is no older than
// the adapter's refresh interval, importing it if necessary.
// Concurrent calls coalesce onto a single import.
func (c *StaticController) EnsureUpdated(ctx context.Context, src model.Source) error {
	return c.ensure(ctx, src, false)
}

// Refresh imports unconditionally, joining an import already in
// flight. Realtime pipelines call this when a write hits a foreign key
// the static tables are missing; the freshness timestamp alone cannot
// see that kind of staleness.
func (c *StaticController) Refresh(ctx context.Context, src model.Source) error {
	return c.ensure(ctx, src, true)
}

func (c *StaticController) ensure(ctx context.Context, src model.Source, force bool) error {
	r, ok := c.runners[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}

	req := ensureReq{ctx: ctx, force: force, reply: make(chan error, 1)}
	select {
	case r.cmds <- req:
	case <-r.done:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the runners. A running import finishes and its waiters
// hear the result; later calls get ErrControllerClosed.
func (c *StaticController) Close() {
	for _, r := range c.runners {
		close(r.done)
	}
}

type ensureReq struct {
	ctx   context.Context
	force bool
	reply chan error
}

type staticRunner struct {
	adapter    StaticAdapter
	sources    sourceClock
	logger     *slog.Logger
	cmds       chan ensureReq
	done       chan struct{}
	registered bool
}

// run owns the runner's entire state: whether an import is in flight
// and who is waiting on it. All coordination happens on this
// goroutine, so there are no locks to hold wrong.
func (r *staticRunner) run() {
	results := make(chan error, 1)
	importing := false
	var pending []chan error

	for {
		select {
		case req := <-r.cmds:
			fresh, err := r.fresh(req.ctx, req.force)
			if err != nil {
				req.reply <- err
				continue
			}
			if fresh {
				req.reply <- nil
				continue
			}
			pending = append(pending, req.reply)
			if !importing {
				importing = true
				go func() { results <- r.importOnce() }()
			}

		case err := <-results:
			importing = false
			for _, reply := range pending {
				reply <- err
			}
			pending = nil

		case <-r.done:
			if importing {
				err := <-results
				for _, reply := range pending {
					reply <- err
				}
			}
			return
		}
	}
}

func (r *staticRunner) fresh(ctx context.Context, force bool) (bool, error) {
	if !r.registered {
		if err := r.sources.EnsureRegistered(ctx, r.adapter.Source()); err != nil {
			return false, err
		}
		r.registered = true
	}
	if force {
		return false, nil
	}
	updatedAt, err := r.sources.UpdatedAt(ctx, r.adapter.Source())
	if err != nil {
		return false, err
	}
	return time.Since(updatedAt) < r.adapter.RefreshInterval(), nil
}

func (r *staticRunner) importOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()

	start := time.Now()
	r.logger.Info("importing static data")
	if err := r.adapter.Import(ctx); err != nil {
		r.logger.Error("static import failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("importing %s: %w", r.adapter.Source(), err)
	}
	if err := r.sources.Touch(ctx, r.adapter.Source()); err != nil {
		return fmt.Errorf("recording import of %s: %w", r.adapter.Source(), err)
	}
	r.logger.Info("static import done", "duration", time.Since(start))
	return nil
}
