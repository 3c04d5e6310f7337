// Package dispatcher drains the shared buffer to downstream fetchers and runs
// the populator refill loop.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawler-frontier/internal/clock"
	"github.com/JakeFAU/crawler-frontier/internal/frontier"
	"github.com/JakeFAU/crawler-frontier/internal/id/uuid"
)

// Dispatch outcomes, used as the metrics label.
const (
	ResultPublished = "published"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Message is the payload published for each dispatched entry.
type Message struct {
	URL          string            `json:"url"`
	Metadata     frontier.Metadata `json:"metadata"`
	MessageID    string            `json:"message_id"`
	DispatchedAt time.Time         `json:"dispatched_at"`
}

// Observer receives one call per dispatch attempt.
type Observer interface {
	ObserveDispatch(result string)
}

// Config controls the dispatcher.
type Config struct {
	Topic   string
	Workers int
	// MaxRate caps publishes per second across all workers; 0 means unlimited.
	MaxRate float64
}

// Deps are the collaborators a Dispatcher drives. Buffer, InFlight and
// Publisher are required.
type Deps struct {
	Buffer    frontier.DrainableBuffer
	InFlight  frontier.InFlightTracker
	Publisher frontier.Publisher
	Observer  Observer
	Clock     frontier.Clock
	IDs       frontier.IDGenerator
	Logger    *zap.Logger
}

// Dispatcher fans buffered entries out to the publisher.
type Dispatcher struct {
	buffer    frontier.DrainableBuffer
	inflight  frontier.InFlightTracker
	publisher frontier.Publisher
	observer  Observer
	clock     frontier.Clock
	ids       frontier.IDGenerator
	logger    *zap.Logger
	tracer    trace.Tracer
	limiter   *rate.Limiter
	topic     string
	workers   int
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	switch {
	case deps.Buffer == nil:
		return nil, errors.New("dispatcher: buffer is required")
	case deps.InFlight == nil:
		return nil, errors.New("dispatcher: in-flight tracker is required")
	case deps.Publisher == nil:
		return nil, errors.New("dispatcher: publisher is required")
	}
	d := &Dispatcher{
		buffer:    deps.Buffer,
		inflight:  deps.InFlight,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
		tracer:    otel.Tracer("github.com/JakeFAU/crawler-frontier/internal/dispatcher"),
		topic:     cfg.Topic,
		workers:   cfg.Workers,
	}
	if d.clock == nil {
		d.clock = clock.NewSystem()
	}
	if d.ids == nil {
		d.ids = uuid.New()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if cfg.MaxRate > 0 {
		burst := int(cfg.MaxRate)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), burst)
	}
	return d, nil
}

// Run starts the workers and blocks until the context finishes or the buffer closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, d.logger.With(zap.Int("worker", id)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, logger *zap.Logger) {
	for {
		entry, err := d.buffer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, frontier.ErrBufferClosed) {
				return
			}
			logger.Error("buffer next failed", zap.Error(err))
			continue
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				// The entry was never marked, so it is safe to drop on shutdown.
				return
			}
		}
		if _, err := d.Dispatch(ctx, entry); err != nil && ctx.Err() == nil {
			logger.Warn("dispatch failed", zap.String("url", entry.URL), zap.Error(err))
		}
	}
}

// Dispatch marks one entry in flight and publishes it. Entries already in
// flight are skipped; the mark is released when publishing fails.
func (d *Dispatcher) Dispatch(ctx context.Context, entry frontier.Entry) (string, error) {
	ctx, span := d.tracer.Start(ctx, "frontier.dispatch",
		trace.WithAttributes(attribute.String("frontier.url", entry.URL)))
	defer span.End()

	marked, err := d.inflight.Mark(ctx, entry.URL)
	if err != nil {
		d.observe(ResultFailed)
		span.SetStatus(codes.Error, err.Error())
		return ResultFailed, fmt.Errorf("mark in flight: %w", err)
	}
	if !marked {
		d.observe(ResultSkipped)
		d.logger.Debug("already in flight", zap.String("url", entry.URL))
		return ResultSkipped, nil
	}

	msg := Message{
		URL:          entry.URL,
		Metadata:     entry.Metadata,
		MessageID:    d.ids.NewID(),
		DispatchedAt: d.clock.Now(),
	}
	if _, err := d.publisher.Publish(ctx, d.topic, msg); err != nil {
		if relErr := d.inflight.Release(context.WithoutCancel(ctx), entry.URL); relErr != nil {
			d.logger.Warn("release after publish failure", zap.String("url", entry.URL), zap.Error(relErr))
		}
		d.observe(ResultFailed)
		span.SetStatus(codes.Error, err.Error())
		return ResultFailed, fmt.Errorf("publish %q: %w", entry.URL, err)
	}
	d.observe(ResultPublished)
	return ResultPublished, nil
}

func (d *Dispatcher) observe(result string) {
	if d.observer != nil {
		d.observer.ObserveDispatch(result)
	}
}
