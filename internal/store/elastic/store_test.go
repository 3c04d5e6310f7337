package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

type captured struct {
	mu     sync.Mutex
	path   string
	pref   string
	method string
	body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*Store, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.path = r.URL.Path
		c.method = r.Method
		c.pref = r.URL.Query().Get("preference")
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &c.body)
		}
		c.mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	store, err := NewStore(Config{Addresses: []string{srv.URL}, Index: "frontier"}, nil)
	require.NoError(t, err)
	return store, c
}

func sampleSpec(shard int) frontier.QuerySpec {
	return frontier.QuerySpec{
		ReadyBefore:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		PartitionField:  "hostname",
		MaxPerPartition: 5,
		MaxPartitions:   10,
		SampleSize:      50,
		TopHitsSize:     50,
		Shard:           shard,
	}
}

const sampleResponse = `{
  "took": 3,
  "hits": {"total": {"value": 4}, "hits": []},
  "aggregations": {
    "sample": {
      "doc_count": 3,
      "docs": {"hits": {"hits": [
        {"_id": "1", "_source": {"url": "https://a.com/1", "metadata": {"hostname": "a.com"}}},
        {"_id": "2", "_source": {"url": "https://b.com/1", "metadata": {"hostname": ["b.com"]}}},
        {"_id": "3", "_source": {"url": "https://a.com/2", "metadata": {"hostname": "a.com"}}}
      ]}}
    }
  }
}`

func TestSearchTranslatesSpec(t *testing.T) {
	t.Parallel()

	store, c := newServer(t, http.StatusOK, sampleResponse)
	res, err := store.Search(context.Background(), sampleSpec(2))
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, "/frontier/_search", c.path)
	require.Equal(t, "_shards:2", c.pref)
	require.EqualValues(t, 0, c.body["size"])
	require.Equal(t, false, c.body["explain"])

	rng := c.body["query"].(map[string]any)["range"].(map[string]any)["nextFetchDate"].(map[string]any)
	require.Equal(t, "2024-03-01T12:00:00.000Z", rng["lte"])

	sample := c.body["aggs"].(map[string]any)["sample"].(map[string]any)
	sampler := sample["diversified_sampler"].(map[string]any)
	require.Equal(t, "metadata.hostname", sampler["field"])
	require.EqualValues(t, 5, sampler["max_docs_per_value"])
	require.EqualValues(t, 50, sampler["shard_size"])
	topHits := sample["aggs"].(map[string]any)["docs"].(map[string]any)["top_hits"].(map[string]any)
	require.EqualValues(t, 50, topHits["size"])
	require.Equal(t, false, topHits["explain"])

	require.Len(t, res.Buckets, 2)
	require.Equal(t, "a.com", res.Buckets[0].Partition)
	require.Len(t, res.Buckets[0].Records, 2)
	require.Equal(t, "b.com", res.Buckets[1].Partition)
	require.Equal(t, 3, res.Total())
}

func TestSearchOmitsPreferenceWithoutShard(t *testing.T) {
	t.Parallel()

	store, c := newServer(t, http.StatusOK, `{"aggregations":{"sample":{"docs":{"hits":{"hits":[]}}}}}`)
	res, err := store.Search(context.Background(), sampleSpec(frontier.NoShard))
	require.NoError(t, err)
	require.Zero(t, res.Total())

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.pref)
}

func TestSearchReportsErrorStatus(t *testing.T) {
	t.Parallel()

	store, _ := newServer(t, http.StatusBadRequest, `{"error":"bad query"}`)
	_, err := store.Search(context.Background(), sampleSpec(0))
	require.ErrorContains(t, err, "status 400")
}

func TestSearchUnreachable(t *testing.T) {
	t.Parallel()

	store, err := NewStore(Config{Addresses: []string{"http://127.0.0.1:1"}, Index: "frontier"}, nil)
	require.NoError(t, err)
	_, err = store.Search(context.Background(), sampleSpec(0))
	require.ErrorIs(t, err, frontier.ErrStoreUnavailable)
	require.ErrorIs(t, store.Ping(context.Background()), frontier.ErrStoreUnavailable)
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, c := newServer(t, http.StatusOK, `{}`)
	require.NoError(t, store.Ping(context.Background()))
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, http.MethodHead, c.method)
	require.NoError(t, store.Close())
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(Config{Index: "frontier"}, nil)
	require.ErrorContains(t, err, "addresses")
	_, err = NewStore(Config{Addresses: []string{"http://localhost:9200"}}, nil)
	require.ErrorContains(t, err, "index")
}
