package transithub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transithub.dev/transithub/model"
)

// Pipeline is one repeatedly-run ingestion cycle. Both realtime and
// alert pipelines satisfy it.
type Pipeline interface {
	Source() model.Source
	RefreshInterval() time.Duration
	Run(ctx context.Context) error
}

// Engine runs every registered pipeline on its own cadence. A failing
// cycle is logged and the next one runs on schedule; one source's
// outage never stalls another's ingestion.
type Engine struct {
	logger    *slog.Logger
	pipelines []namedPipeline
}

type namedPipeline struct {
	name string
	p    Pipeline
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

func (e *Engine) Add(name string, p Pipeline) {
	e.pipelines = append(e.pipelines, namedPipeline{name: name, p: p})
}

// Run blocks until ctx is canceled. Each pipeline stops at its next
// iteration boundary; a cycle already underway finishes.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, np := range e.pipelines {
		wg.Add(1)
		go func(np namedPipeline) {
			defer wg.Done()
			e.loop(ctx, np)
		}(np)
	}
	wg.Wait()
}

func (e *Engine) loop(ctx context.Context, np namedPipeline) {
	logger := e.logger.With("worker", np.name, "source", np.p.Source())
	logger.Info("worker started", "interval", np.p.RefreshInterval())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := np.p.Run(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
			logger.Error("cycle failed", "error", err, "duration", time.Since(start))
		}
		timer.Reset(np.p.RefreshInterval())
	}
}
