package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"veridano/source"
)

// Scheduler triggers each source's ingestion on its own interval. Sources
// run independently with no cross-source ordering; the per-source lease in
// the pipeline keeps a slow run from overlapping the next tick.
type Scheduler struct {
	pipeline  *Pipeline
	intervals map[source.Source]time.Duration
	logger    *zap.Logger
}

func NewScheduler(pipeline *Pipeline, overrides map[source.Source]time.Duration, logger *zap.Logger) *Scheduler {
	intervals := make(map[source.Source]time.Duration, len(source.All))
	for _, src := range source.All {
		interval := source.MinInterval[src]
		if override, ok := overrides[src]; ok && override > interval {
			interval = override
		}
		intervals[src] = interval
	}
	return &Scheduler{pipeline: pipeline, intervals: intervals, logger: logger}
}

// Start launches one goroutine per source and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for src, interval := range s.intervals {
		wg.Add(1)
		go func(src source.Source, interval time.Duration) {
			defer wg.Done()
			s.loop(ctx, src, interval)
		}(src, interval)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, src source.Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.trigger(ctx, src)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, src)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, src source.Source) {
	run, err := s.pipeline.Run(ctx, src)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("skipping tick, run in progress", zap.String("source", string(src)))
	case err != nil:
		s.logger.Error("scheduled ingestion failed", zap.String("source", string(src)), zap.Error(err))
	default:
		s.logger.Info("scheduled ingestion complete",
			zap.String("source", string(src)),
			zap.String("run", run.ID),
			zap.String("status", string(run.Status)))
	}
}
