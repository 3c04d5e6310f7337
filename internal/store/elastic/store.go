// Package elastic provides the Elasticsearch-backed frontier store. Queries use a
// diversified sampler aggregation so that no partition dominates a sample.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

const (
	samplerAgg = "sample"
	topHitsAgg = "docs"
)

// Config controls the client and index used by the store.
type Config struct {
	Addresses   []string
	Index       string
	Username    string
	Password    string
	LogIDPrefix string
}

// Store queries one frontier index.
type Store struct {
	client *elasticsearch.Client
	index  string
	prefix string
	logger *zap.Logger
}

// NewStore builds a client from cfg.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch.addresses is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewStoreWithClient(client, cfg.Index, cfg.LogIDPrefix, logger)
}

// NewStoreWithClient wraps an existing client (primarily for testing).
func NewStoreWithClient(client *elasticsearch.Client, index, prefix string, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("elasticsearch client is required")
	}
	if index == "" {
		return nil, errors.New("elasticsearch.index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, index: index, prefix: prefix, logger: logger}, nil
}

// BuildBody renders the search request body for spec.
func BuildBody(spec frontier.QuerySpec) map[string]any {
	return map[string]any{
		"size":    spec.Size,
		"explain": spec.Explain,
		"query": map[string]any{
			"range": map[string]any{
				frontier.FieldNextFetch: map[string]any{
					"lte": spec.ReadyBefore.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				},
			},
		},
		"aggs": map[string]any{
			samplerAgg: map[string]any{
				"diversified_sampler": map[string]any{
					"field":              frontier.FieldMetadata + "." + spec.PartitionField,
					"max_docs_per_value": spec.MaxPerPartition,
					"shard_size":         spec.SampleSize,
				},
				"aggs": map[string]any{
					topHitsAgg: map[string]any{
						"top_hits": map[string]any{
							"size":    spec.TopHitsSize,
							"explain": spec.Explain,
						},
					},
				},
			},
		},
	}
}

type searchResponse struct {
	Aggregations struct {
		Sample struct {
			DocCount int `json:"doc_count"`
			Docs     struct {
				Hits struct {
					Hits []struct {
						ID     string         `json:"_id"`
						Source map[string]any `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			} `json:"docs"`
		} `json:"sample"`
	} `json:"aggregations"`
}

// Search executes the sampler query. Hits come back as one flat list, so they
// are regrouped by partition value here.
func (s *Store) Search(ctx context.Context, spec frontier.QuerySpec) (frontier.SearchResult, error) {
	body, err := json.Marshal(BuildBody(spec))
	if err != nil {
		return frontier.SearchResult{}, fmt.Errorf("encode query: %w", err)
	}
	s.logger.Debug("frontier query",
		zap.String("log_id_prefix", s.prefix),
		zap.String("index", s.index),
		zap.String("preference", spec.Preference()),
		zap.ByteString("body", body),
	)

	search := s.client.Search
	opts := []func(*esapi.SearchRequest){
		search.WithContext(ctx),
		search.WithIndex(s.index),
		search.WithBody(bytes.NewReader(body)),
	}
	if pref := spec.Preference(); pref != "" {
		opts = append(opts, search.WithPreference(pref))
	}
	res, err := search(opts...)
	if err != nil {
		return frontier.SearchResult{}, fmt.Errorf("%w: elasticsearch search: %v", frontier.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return frontier.SearchResult{}, fmt.Errorf("elasticsearch search: status %d: %s",
			res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return frontier.SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}
	hits := parsed.Aggregations.Sample.Docs.Hits.Hits
	partitions := make([]string, 0, len(hits))
	records := make([]frontier.RawRecord, 0, len(hits))
	for _, hit := range hits {
		partitions = append(partitions, frontier.PartitionValue(hit.Source, spec.PartitionField))
		records = append(records, frontier.RawRecord{ID: hit.ID, Source: hit.Source})
	}
	return frontier.SearchResult{Buckets: frontier.GroupBuckets(partitions, records)}, nil
}

// Ping checks the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: elasticsearch ping: %v", frontier.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: elasticsearch ping: status %d", frontier.ErrStoreUnavailable, res.StatusCode)
	}
	return nil
}

// Close is a no-op; the client holds no persistent resources beyond idle connections.
func (s *Store) Close() error {
	return nil
}
