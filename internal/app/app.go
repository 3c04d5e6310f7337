// Package app wires configuration into a runnable frontier service: stores,
// the in-flight set, the shared buffer, populators, the dispatcher and the ops
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/api"
	buffermemory "github.com/JakeFAU/crawler-frontier/internal/buffer/memory"
	"github.com/JakeFAU/crawler-frontier/internal/clock"
	"github.com/JakeFAU/crawler-frontier/internal/config"
	"github.com/JakeFAU/crawler-frontier/internal/dispatcher"
	"github.com/JakeFAU/crawler-frontier/internal/frontier"
	"github.com/JakeFAU/crawler-frontier/internal/id/uuid"
	inflightmemory "github.com/JakeFAU/crawler-frontier/internal/inflight/memory"
	inflightredis "github.com/JakeFAU/crawler-frontier/internal/inflight/redis"
	"github.com/JakeFAU/crawler-frontier/internal/logging"
	"github.com/JakeFAU/crawler-frontier/internal/metrics"
	"github.com/JakeFAU/crawler-frontier/internal/populator"
	memorypublisher "github.com/JakeFAU/crawler-frontier/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawler-frontier/internal/publisher/pubsub"
	"github.com/JakeFAU/crawler-frontier/internal/query"
	"github.com/JakeFAU/crawler-frontier/internal/store/elastic"
	memorystore "github.com/JakeFAU/crawler-frontier/internal/store/memory"
	"github.com/JakeFAU/crawler-frontier/internal/store/postgres"
	"github.com/JakeFAU/crawler-frontier/internal/telemetry"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	pingAttempts      = 5
	pingDelay         = 500 * time.Millisecond
)

// publisher is the dispatch-side view of a publisher backend.
type publisher interface {
	frontier.Publisher
	Close() error
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	emitter    *metrics.Emitter
	store      frontier.Store
	inflight   frontier.InFlightTracker
	buffer     *buffermemory.Buffer
	publisher  publisher
	populators []*populator.Populator
	scheduler  *dispatcher.Scheduler
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	closers   []closer
	closeOnce sync.Once
	closeErr  error
}

// Build constructs the application from cfg. On failure every resource
// created so far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	app.addCloser("logger", func(context.Context) error {
		// Sync on stderr/stdout reports EINVAL/ENOTTY on most terminals.
		_ = logger.Sync()
		return nil
	})

	if err := app.build(ctx); err != nil {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, a.cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	a.addCloser("tracer", tp.Shutdown)

	if err := a.setupMetrics(); err != nil {
		return err
	}
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	if err := a.setupInFlight(ctx); err != nil {
		return err
	}
	a.buffer = buffermemory.NewBuffer(a.cfg.Frontier.BufferCapacity)
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	if err := a.setupPopulators(); err != nil {
		return err
	}
	return a.setupDispatch()
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupMetrics() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	emitter, err := metrics.NewEmitter(a.registry, a.logger.Named("metrics"))
	if err != nil {
		return fmt.Errorf("failed to create metrics emitter: %w", err)
	}
	a.emitter = emitter
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	logger := a.logger.Named("store")
	var (
		store frontier.Store
		err   error
	)
	switch a.cfg.Frontier.Store {
	case config.StoreMemory:
		store, err = memorystore.NewStore(logger)
	case config.StoreElasticsearch:
		store, err = elastic.NewStore(elastic.Config{
			Addresses:   a.cfg.Elasticsearch.Addresses,
			Index:       a.cfg.Elasticsearch.Index,
			Username:    a.cfg.Elasticsearch.Username,
			Password:    a.cfg.Elasticsearch.Password,
			LogIDPrefix: a.cfg.Frontier.LogIDPrefix,
		}, logger)
	case config.StorePostgres:
		store, err = postgres.NewStore(ctx, postgres.Config{
			DSN:         a.cfg.Postgres.DSN,
			Table:       a.cfg.Postgres.Table,
			MaxConns:    a.cfg.Postgres.MaxConns,
			LogIDPrefix: a.cfg.Frontier.LogIDPrefix,
		}, logger)
	default:
		return fmt.Errorf("unknown frontier store: %q", a.cfg.Frontier.Store)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s store: %w", a.cfg.Frontier.Store, err)
	}
	a.store = store
	a.addCloser("store", func(context.Context) error { return store.Close() })

	err = retry.Do(
		func() error { return store.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("store not reachable yet", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%s store unreachable: %w", a.cfg.Frontier.Store, err)
	}
	a.logger.Info("frontier store ready", zap.String("store", a.cfg.Frontier.Store))
	return nil
}

func (a *App) setupInFlight(ctx context.Context) error {
	switch a.cfg.InFlight.Backend {
	case config.InFlightMemory:
		a.inflight = inflightmemory.NewSet(a.cfg.InFlight.TTL)
	case config.InFlightRedis:
		set, err := inflightredis.Dial(a.cfg.InFlight.Redis.Addr, a.cfg.InFlight.Redis.KeyPrefix, a.cfg.InFlight.TTL)
		if err != nil {
			return fmt.Errorf("failed to create redis in-flight set: %w", err)
		}
		a.addCloser("inflight", func(context.Context) error { return set.Close() })
		if err := set.Ping(ctx); err != nil {
			return err
		}
		a.inflight = set
	default:
		return fmt.Errorf("unknown in-flight backend: %q", a.cfg.InFlight.Backend)
	}
	a.logger.Info("in-flight set ready",
		zap.String("backend", a.cfg.InFlight.Backend),
		zap.Duration("ttl", a.cfg.InFlight.TTL),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("pubsub project not configured, dispatching to memory",
			zap.String("topic", a.cfg.PubSub.TopicName))
		a.publisher = memorypublisher.New()
	} else {
		pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create pubsub publisher: %w", err)
		}
		a.publisher = pub
	}
	pub := a.publisher
	a.addCloser("publisher", func(context.Context) error { return pub.Close() })
	return nil
}

// populatorName labels a shard's populator in metrics, logs and status output.
func populatorName(shard int) string {
	if shard == frontier.NoShard {
		return "all"
	}
	return fmt.Sprintf("shard-%d", shard)
}

func (a *App) setupPopulators() error {
	for _, shard := range a.cfg.Frontier.ShardList() {
		name := populatorName(shard)
		sampler, err := query.NewDiversitySampler(query.SamplerConfig{
			PartitionField:  a.cfg.Frontier.PartitionField,
			MaxPerPartition: a.cfg.Frontier.MaxURLsPerBucket,
			MaxPartitions:   a.cfg.Frontier.MaxBucketNum,
			Shard:           shard,
		})
		if err != nil {
			return fmt.Errorf("populator %s: %w", name, err)
		}
		p, err := populator.New(populator.Deps{
			Store:    a.store,
			Strategy: sampler,
			InFlight: a.inflight,
			Buffer:   a.buffer,
			Recorder: a.emitter.Scope(name),
			Logger:   logging.ForPopulator(a.logger, name, shard, a.cfg.Frontier.LogIDPrefix),
		}, populator.Config{
			Name:         name,
			MinDelay:     a.cfg.Frontier.MinDelay,
			QueryTimeout: a.cfg.Frontier.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("populator %s: %w", name, err)
		}
		a.populators = append(a.populators, p)
	}
	a.logger.Info("populators configured", zap.Int("count", len(a.populators)))
	return nil
}

func (a *App) setupDispatch() error {
	clk := clock.NewSystem()
	ids := uuid.New()

	dispatch, err := dispatcher.New(dispatcher.Deps{
		Buffer:    a.buffer,
		InFlight:  a.inflight,
		Publisher: a.publisher,
		Observer:  a.emitter,
		Clock:     clk,
		IDs:       ids,
		Logger:    a.logger.Named("dispatcher"),
	}, dispatcher.Config{
		Topic:   a.cfg.PubSub.TopicName,
		Workers: a.cfg.Dispatch.Workers,
		MaxRate: a.cfg.Dispatch.MaxRate,
	})
	if err != nil {
		return err
	}
	a.dispatch = dispatch

	refill := make([]dispatcher.Populator, 0, len(a.populators))
	sources := make([]api.StatusSource, 0, len(a.populators))
	for _, p := range a.populators {
		refill = append(refill, p)
		sources = append(sources, p)
	}
	a.scheduler, err = dispatcher.NewScheduler(a.buffer, refill, dispatcher.SchedulerConfig{
		LowWatermark: a.cfg.Dispatch.LowWatermark,
		PollInterval: a.cfg.Dispatch.PollInterval,
	}, a.emitter, a.logger.Named("scheduler"))
	if err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Store:      a.store,
		Populators: sources,
		Buffer:     a.buffer,
		Metrics:    a.emitter,
		Clock:      clk,
		IDs:        ids,
		Logger:     a.logger.Named("api"),
	})
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured frontier store.
func (a *App) Store() frontier.Store {
	return a.store
}

// Publisher returns the configured dispatch publisher.
func (a *App) Publisher() frontier.Publisher {
	return a.publisher
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and serves until SIGINT/SIGTERM or ctx
// cancellation, then releases every resource.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), a.Close(context.Background()))
	}
	return a.Serve(ctx, ln)
}

// Serve runs the scheduler, the dispatcher and the ops server on ln until ctx
// is done, then shuts them down and closes the application.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var result *multierror.Error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	a.buffer.Close()
	wg.Wait()

	select {
	case err := <-serveErr:
		result = multierror.Append(result, fmt.Errorf("http serve: %w", err))
	default:
	}
	if err := a.Close(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close releases resources in reverse order of creation. It is safe to call
// more than once; later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var result *multierror.Error
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(ctx); err != nil {
				a.logger.Warn("failed to close resource", zap.String("resource", c.name), zap.Error(err))
				result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
			}
		}
		a.closeErr = result.ErrorOrNil()
	})
	return a.closeErr
}
