// Package populator implements the frontier refill cycle: rate-gated
// querying, diversity-sampled retrieval, in-flight filtering, shuffling and
// metrics emission.
package populator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/clock"
	"github.com/JakeFAU/crawler-frontier/internal/frontier"
	"github.com/JakeFAU/crawler-frontier/internal/id/uuid"
	"github.com/JakeFAU/crawler-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawler-frontier/internal/query"
)

// Config controls one Populator instance.
type Config struct {
	// Name labels metrics and status output, e.g. "shard-2".
	Name         string
	MinDelay     time.Duration
	QueryTimeout time.Duration
}

// Deps are the collaborators a Populator drives. Store, Strategy and Buffer
// are required; the rest fall back to sensible defaults.
type Deps struct {
	Store    frontier.Store
	Strategy query.Strategy
	InFlight frontier.InFlightLookup
	Buffer   frontier.Buffer
	Recorder frontier.Recorder
	Metadata frontier.MetadataBuilder
	Clock    frontier.Clock
	IDs      frontier.IDGenerator
	Shuffler *Shuffler
	Logger   *zap.Logger
}

// Option customises a Populator.
type Option func(*Populator)

// WithGate shares an externally owned gate, e.g. to carry its state across
// populator rebuilds.
func WithGate(g *ratelimit.Gate) Option {
	return func(p *Populator) {
		if g != nil {
			p.gate = g
		}
	}
}

// cycleObserver is implemented by recorders that also track deferrals and
// buffer appends.
type cycleObserver interface {
	ObserveDeferral()
	ObserveAppended(n int)
}

// Status is a point-in-time view of a Populator for the ops API.
type Status struct {
	Name        string          `json:"name"`
	MinDelay    time.Duration   `json:"min_delay"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	LastResult  frontier.Result `json:"last_result"`
	Cycles      int64           `json:"cycles"`
	Failures    int64           `json:"failures"`
}

// Populator refills the shared buffer from the frontier store. Populate is
// meant to be called serially by a host scheduler; it never sleeps.
type Populator struct {
	cfg      Config
	store    frontier.Store
	strategy query.Strategy
	inFlight frontier.InFlightLookup
	buffer   frontier.Buffer
	recorder frontier.Recorder
	metadata frontier.MetadataBuilder
	clock    frontier.Clock
	ids      frontier.IDGenerator
	shuffler *Shuffler
	gate     *ratelimit.Gate
	logger   *zap.Logger

	mu       sync.Mutex
	last     frontier.Result
	cycles   int64
	failures int64
}

// New builds a Populator.
func New(deps Deps, cfg Config, opts ...Option) (*Populator, error) {
	if deps.Store == nil {
		return nil, errors.New("populator: store is required")
	}
	if deps.Strategy == nil {
		return nil, errors.New("populator: query strategy is required")
	}
	if deps.Buffer == nil {
		return nil, errors.New("populator: buffer is required")
	}
	if cfg.MinDelay < 0 {
		return nil, fmt.Errorf("populator: min delay must be >= 0, got %v", cfg.MinDelay)
	}
	p := &Populator{
		cfg:      cfg,
		store:    deps.Store,
		strategy: deps.Strategy,
		inFlight: deps.InFlight,
		buffer:   deps.Buffer,
		recorder: deps.Recorder,
		metadata: deps.Metadata,
		clock:    deps.Clock,
		ids:      deps.IDs,
		shuffler: deps.Shuffler,
		logger:   deps.Logger,
	}
	if p.metadata == nil {
		p.metadata = frontier.FromKeyValues
	}
	if p.clock == nil {
		p.clock = clock.NewSystem()
	}
	if p.ids == nil {
		p.ids = uuid.New()
	}
	if p.shuffler == nil {
		p.shuffler = NewShuffler()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gate == nil {
		p.gate = ratelimit.NewGate(cfg.MinDelay)
	}
	return p, nil
}

// Name returns the configured populator name.
func (p *Populator) Name() string {
	return p.cfg.Name
}

// Populate runs one refill cycle. A cycle declined by the gate returns a
// deferred Result and no error; the caller should wait DeferFor before
// calling again. Store failures are returned unretried, and the gate still
// counts the attempt.
func (p *Populator) Populate(ctx context.Context) (frontier.Result, error) {
	now := p.clock.Now()
	decision := p.gate.ShouldProceed(now)
	if !decision.Proceed {
		last, _ := p.gate.Last()
		p.logger.Info("not enough time elapsed since last query",
			zap.Time("last_query", last),
			zap.Duration("defer_for", decision.DeferFor))
		if obs, ok := p.recorder.(cycleObserver); ok {
			obs.ObserveDeferral()
		}
		res := frontier.Result{StartedAt: now, Deferred: true, DeferFor: decision.DeferFor}
		p.remember(res, false)
		return res, nil
	}

	res := frontier.Result{CycleID: p.ids.NewID(), StartedAt: now}
	logger := p.logger.With(zap.String("cycle_id", res.CycleID))

	spec := p.strategy.BuildQuery(now)
	logger.Info("populating buffer", zap.Time("ready_before", spec.ReadyBefore))

	result, latency, err := p.search(ctx, spec)
	res.Latency = latency
	if err != nil {
		p.record(frontier.Observation{Latency: latency, Failed: true})
		res.Error = err.Error()
		p.remember(res, true)
		logger.Warn("frontier query failed", zap.Duration("latency", latency), zap.Error(err))
		return res, fmt.Errorf("search frontier: %w", err)
	}

	hits := result.Total()
	entries, stats, err := Filter(ctx, result, p.inFlight, p.metadata, logger)
	res.Stats = stats
	if err != nil {
		p.record(frontier.Observation{
			Latency:    latency,
			Hits:       hits,
			Duplicates: stats.Duplicates,
			Malformed:  stats.Malformed,
			Failed:     true,
		})
		res.Error = err.Error()
		p.remember(res, true)
		return res, fmt.Errorf("filter candidates: %w", err)
	}
	p.record(frontier.Observation{
		Latency:    latency,
		Hits:       hits,
		Duplicates: stats.Duplicates,
		Malformed:  stats.Malformed,
	})

	p.shuffler.Shuffle(entries)
	appended, err := p.appendAll(ctx, entries)
	res.Appended = appended
	if obs, ok := p.recorder.(cycleObserver); ok {
		obs.ObserveAppended(appended)
	}
	if err != nil {
		res.Error = err.Error()
		p.remember(res, true)
		return res, fmt.Errorf("append entries: %w", err)
	}

	logger.Info("frontier query complete",
		zap.Int("hits", hits),
		zap.Duration("latency", latency),
		zap.Int("already_in_flight", stats.Duplicates),
		zap.Int("malformed", stats.Malformed),
		zap.Int("appended", appended))
	p.remember(res, false)
	return res, nil
}

func (p *Populator) search(ctx context.Context, spec frontier.QuerySpec) (frontier.SearchResult, time.Duration, error) {
	queryCtx := ctx
	if p.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, p.cfg.QueryTimeout)
		defer cancel()
	}
	start := time.Now()
	result, err := p.store.Search(queryCtx, spec)
	return result, time.Since(start), err
}

func (p *Populator) appendAll(ctx context.Context, entries []frontier.Entry) (int, error) {
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := p.buffer.Append(ctx, entry); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

func (p *Populator) record(obs frontier.Observation) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(obs)
}

func (p *Populator) remember(res frontier.Result, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = res
	if !res.Deferred {
		p.cycles++
	}
	if failed {
		p.failures++
	}
}

// Status reports the last cycle and gate state.
func (p *Populator) Status() Status {
	p.mu.Lock()
	st := Status{
		Name:       p.cfg.Name,
		MinDelay:   p.gate.MinDelay(),
		LastResult: p.last,
		Cycles:     p.cycles,
		Failures:   p.failures,
	}
	p.mu.Unlock()
	if last, ok := p.gate.Last(); ok {
		st.LastAttempt = &last
	}
	return st
}
