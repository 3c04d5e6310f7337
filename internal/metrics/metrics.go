// Package metrics exposes Prometheus collectors for the frontier populator.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Emitter owns every collector of the service. Metrics are diagnostic only:
// none of its methods return errors and panics raised by collectors are
// recovered and logged.
type Emitter struct {
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	queryTimeMsec   *prometheus.CounterVec
	alreadyInFlight *prometheus.CounterVec
	docs            *prometheus.CounterVec
	queries         *prometheus.CounterVec
	malformed       *prometheus.CounterVec
	queryFailures   *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	deferrals       *prometheus.CounterVec
	appended        *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	bufferDepth     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewEmitter registers the collectors against reg. A nil reg uses a fresh
// registry, which keeps tests isolated.
func NewEmitter(reg *prometheus.Registry, logger *zap.Logger) (*Emitter, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		gatherer: reg,
		logger:   logger,
		queryTimeMsec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_query_time_msec_total",
			Help: "Accumulated wall time spent in frontier queries, in milliseconds.",
		}, []string{"populator"}),
		alreadyInFlight: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_already_being_processed_total",
			Help: "Candidates skipped because they were already in flight.",
		}, []string{"populator"}),
		docs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_docs_total",
			Help: "Candidates returned by the frontier store.",
		}, []string{"populator"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_queries_total",
			Help: "Frontier queries issued.",
		}, []string{"populator"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_malformed_records_total",
			Help: "Candidates skipped because they lacked a usable url.",
		}, []string{"populator"}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_query_failures_total",
			Help: "Frontier queries that returned an error.",
		}, []string{"populator"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontier_query_duration_seconds",
			Help:    "Frontier query latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"populator"}),
		deferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_deferred_cycles_total",
			Help: "Refill cycles declined by the rate gate.",
		}, []string{"populator"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_buffer_appended_total",
			Help: "Entries appended to the shared buffer.",
		}, []string{"populator"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_dispatch_total",
			Help: "Buffer entries handled by the dispatcher, partitioned by result.",
		}, []string{"result"}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontier_buffer_depth",
			Help: "Entries currently waiting in the shared buffer.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_http_requests_total",
			Help: "Ops API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontier_http_request_duration_seconds",
			Help:    "Ops API latency, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		e.queryTimeMsec,
		e.alreadyInFlight,
		e.docs,
		e.queries,
		e.malformed,
		e.queryFailures,
		e.queryDuration,
		e.deferrals,
		e.appended,
		e.dispatched,
		e.bufferDepth,
		e.httpRequests,
		e.httpDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register frontier collector: %w", err)
		}
	}
	return e, nil
}

// Handler exposes the emitter's registry.
func (e *Emitter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// Scope returns a Recorder whose series carry the given populator label.
func (e *Emitter) Scope(populator string) *Scoped {
	return &Scoped{emitter: e, label: populator}
}

// ObserveDispatch counts one dispatcher outcome.
func (e *Emitter) ObserveDispatch(result string) {
	e.safely("dispatch", func() {
		e.dispatched.WithLabelValues(result).Inc()
	})
}

// SetBufferDepth reports the current buffer length.
func (e *Emitter) SetBufferDepth(n int) {
	e.safely("buffer depth", func() {
		e.bufferDepth.Set(float64(n))
	})
}

// ObserveHTTPRequest records one ops API request.
func (e *Emitter) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	e.safely("http request", func() {
		e.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
		e.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	})
}

func (e *Emitter) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("metrics update failed", zap.String("metric", what), zap.Any("panic", r))
		}
	}()
	fn()
}

// Scoped is a per-populator view of the Emitter.
type Scoped struct {
	emitter *Emitter
	label   string
}

var _ frontier.Recorder = (*Scoped)(nil)

// Record accounts one frontier query: latency, raw hits, in-flight skips,
// malformed records, the query itself and a failure when obs.Failed is set.
func (s *Scoped) Record(obs frontier.Observation) {
	if s == nil || s.emitter == nil {
		return
	}
	e := s.emitter
	e.safely("query", func() {
		latency := obs.Latency
		if latency < 0 {
			latency = 0
		}
		e.queryTimeMsec.WithLabelValues(s.label).Add(float64(latency.Milliseconds()))
		e.queryDuration.WithLabelValues(s.label).Observe(latency.Seconds())
		e.alreadyInFlight.WithLabelValues(s.label).Add(nonNegative(obs.Duplicates))
		e.docs.WithLabelValues(s.label).Add(nonNegative(obs.Hits))
		e.malformed.WithLabelValues(s.label).Add(nonNegative(obs.Malformed))
		e.queries.WithLabelValues(s.label).Inc()
		if obs.Failed {
			e.queryFailures.WithLabelValues(s.label).Inc()
		}
	})
}

// ObserveDeferral counts a cycle the gate declined.
func (s *Scoped) ObserveDeferral() {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.safely("deferral", func() {
		s.emitter.deferrals.WithLabelValues(s.label).Inc()
	})
}

// ObserveAppended counts entries pushed into the buffer.
func (s *Scoped) ObserveAppended(n int) {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.safely("appended", func() {
		s.emitter.appended.WithLabelValues(s.label).Add(nonNegative(n))
	})
}

func nonNegative(n int) float64 {
	if n < 0 {
		return 0
	}
	return float64(n)
}
