package frontier

import (
	"errors"
	"fmt"
	"time"
)

// Source field names shared by every store implementation.
const (
	FieldURL       = "url"
	FieldMetadata  = "metadata"
	FieldNextFetch = "nextFetchDate"
)

// NoShard marks a query that may run against every shard of the store.
const NoShard = -1

var (
	// ErrBufferClosed is returned once the shared buffer stops accepting entries.
	ErrBufferClosed = errors.New("buffer closed")
	// ErrStoreUnavailable wraps transport level store failures.
	ErrStoreUnavailable = errors.New("frontier store unavailable")
)

// Metadata is the multi-valued key/value metadata attached to a URL.
type Metadata map[string][]string

// First returns the first value stored under key, or "".
func (m Metadata) First(key string) string {
	if vals := m[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Clone returns a deep copy so entries never share backing slices.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// RawRecord is one candidate as returned by a store.
type RawRecord struct {
	ID     string
	Source map[string]any
}

// URL extracts the identifier from the record source.
func (r RawRecord) URL() (string, bool) {
	raw, ok := r.Source[FieldURL]
	if !ok {
		return "", false
	}
	url, ok := raw.(string)
	if !ok || url == "" {
		return "", false
	}
	return url, true
}

// Bucket groups the sampled records sharing one partition value.
type Bucket struct {
	Partition string
	Records   []RawRecord
}

// SearchResult is the aggregation output of a frontier query.
type SearchResult struct {
	Buckets []Bucket
}

// Total counts records across all buckets.
func (r SearchResult) Total() int {
	n := 0
	for _, b := range r.Buckets {
		n += len(b.Records)
	}
	return n
}

// Entry is appended to the shared buffer and handed to the dispatcher.
type Entry struct {
	URL      string   `json:"url"`
	Metadata Metadata `json:"metadata"`
}

// QuerySpec describes one diversity-sampled frontier query in a store-neutral way.
type QuerySpec struct {
	ReadyBefore     time.Time
	PartitionField  string
	MaxPerPartition int
	MaxPartitions   int
	// SampleSize bounds the sampler aggregation; TopHitsSize bounds the nested top hits.
	SampleSize  int
	TopHitsSize int
	// Size is the number of top level documents requested, always 0.
	Size    int
	Explain bool
	Shard   int
}

// Preference returns the shard routing preference, or "" when unrestricted.
func (q QuerySpec) Preference() string {
	if q.Shard < 0 {
		return ""
	}
	return fmt.Sprintf("_shards:%d", q.Shard)
}

// FilterStats counts how the candidates of one cycle were classified.
type FilterStats struct {
	Seen       int `json:"seen"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
}

// Total returns the number of candidates inspected.
func (s FilterStats) Total() int {
	return s.Seen + s.Duplicates + s.Malformed
}

// Observation is what a populator reports to the metrics sink after a query.
type Observation struct {
	Latency    time.Duration
	Hits       int
	Duplicates int
	Malformed  int
	Failed     bool
}

// Result summarises one Populate invocation.
type Result struct {
	CycleID   string        `json:"cycle_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Deferred  bool          `json:"deferred"`
	DeferFor  time.Duration `json:"defer_for,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	Stats     FilterStats   `json:"stats"`
	Appended  int           `json:"appended"`
	Error     string        `json:"error,omitempty"`
}

// Candidate is a URL as persisted in a frontier store.
type Candidate struct {
	URL           string
	NextFetchDate time.Time
	Metadata      Metadata
	Shard         int
}

// Source renders the candidate the way stores return it in a RawRecord.
func (c Candidate) Source() map[string]any {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = append([]string(nil), v...)
	}
	return map[string]any{
		FieldURL:       c.URL,
		FieldMetadata:  meta,
		FieldNextFetch: c.NextFetchDate.UTC().Format(time.RFC3339Nano),
	}
}
