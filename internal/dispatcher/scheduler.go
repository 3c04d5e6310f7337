package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Populator is the refill side the scheduler drives.
type Populator interface {
	Name() string
	Populate(ctx context.Context) (frontier.Result, error)
}

// DepthObserver receives the buffer depth sampled before each refill decision.
type DepthObserver interface {
	SetBufferDepth(n int)
}

// SchedulerConfig controls when populators are invoked.
type SchedulerConfig struct {
	// LowWatermark triggers a refill once the buffer holds this many entries or fewer.
	LowWatermark int
	PollInterval time.Duration
}

// Scheduler invokes each populator serially in its own loop, sleeping for the
// deferral a populator returns or the poll interval otherwise.
type Scheduler struct {
	buffer     frontier.Buffer
	populators []Populator
	cfg        SchedulerConfig
	depth      DepthObserver
	logger     *zap.Logger
}

// NewScheduler validates cfg and builds a Scheduler.
func NewScheduler(buffer frontier.Buffer, populators []Populator, cfg SchedulerConfig, depth DepthObserver, logger *zap.Logger) (*Scheduler, error) {
	if buffer == nil {
		return nil, errors.New("scheduler: buffer is required")
	}
	if len(populators) == 0 {
		return nil, errors.New("scheduler: at least one populator is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("scheduler: poll interval must be > 0")
	}
	if cfg.LowWatermark < 0 {
		return nil, errors.New("scheduler: low watermark must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		buffer:     buffer,
		populators: populators,
		cfg:        cfg,
		depth:      depth,
		logger:     logger,
	}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range s.populators {
		wg.Add(1)
		go func(p Populator) {
			defer wg.Done()
			s.loop(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, p Populator) {
	logger := s.logger.With(zap.String("populator", p.Name()))
	for {
		wait := s.Step(ctx, p, logger)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// Step runs at most one populate cycle and returns how long to wait before the next.
func (s *Scheduler) Step(ctx context.Context, p Populator, logger *zap.Logger) time.Duration {
	depth := s.buffer.Len()
	if s.depth != nil {
		s.depth.SetBufferDepth(depth)
	}
	if depth > s.cfg.LowWatermark {
		return s.cfg.PollInterval
	}
	res, err := p.Populate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("populate failed", zap.String("cycle_id", res.CycleID), zap.Error(err))
		}
		return s.cfg.PollInterval
	}
	if res.Deferred {
		logger.Debug("populate deferred", zap.Duration("defer_for", res.DeferFor))
		return res.DeferFor
	}
	return s.cfg.PollInterval
}

// sleep waits for d or until ctx is done, reporting whether the caller should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
