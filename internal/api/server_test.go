package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/clock"
	"github.com/JakeFAU/crawler-frontier/internal/frontier"
	"github.com/JakeFAU/crawler-frontier/internal/metrics"
	"github.com/JakeFAU/crawler-frontier/internal/populator"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSource struct {
	status populator.Status
}

func (s fakeSource) Name() string             { return s.status.Name }
func (s fakeSource) Status() populator.Status { return s.status }

type fixedLen int

func (fixedLen) Append(context.Context, frontier.Entry) error { return nil }
func (n fixedLen) Len() int                                   { return int(n) }

type fixedIDs struct{}

func (fixedIDs) NewID() string { return "req-1" }

var now = time.Unix(1700000000, 0).UTC()

func newTestServer(t *testing.T, store Pinger) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	emitter, err := metrics.NewEmitter(reg, zap.NewNop())
	require.NoError(t, err)

	last := now.Add(-time.Second)
	return NewServer(Deps{
		Store: store,
		Populators: []StatusSource{
			fakeSource{status: populator.Status{Name: "shard-0", MinDelay: 2 * time.Second, LastAttempt: &last, Cycles: 3}},
			fakeSource{status: populator.Status{Name: "shard-1", Failures: 1}},
		},
		Buffer:  fixedLen(7),
		Metrics: emitter,
		Clock:   clock.NewManual(now),
		IDs:     fixedIDs{},
		Logger:  zap.NewNop(),
	}), reg
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsStore(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, fakePinger{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	server, _ = newTestServer(t, fakePinger{err: errors.New("es down")})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "es down")
}

func TestStatusList(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 7, resp.BufferDepth)
	require.True(t, resp.GeneratedAt.Equal(now))
	require.Len(t, resp.Populators, 2)
	require.Equal(t, "shard-0", resp.Populators[0].Name)
	require.NotNil(t, resp.Populators[0].LastAttempt)
	require.Equal(t, int64(3), resp.Populators[0].Cycles)
}

func TestStatusByName(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/shard-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st populator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, int64(1), st.Failures)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "frontier_http_requests_total")
}

func TestMetricsDisabled(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
