package populator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

type fakeStore struct {
	mu     sync.Mutex
	result frontier.SearchResult
	err    error
	block  bool
	specs  []frontier.QuerySpec
}

func (s *fakeStore) Search(ctx context.Context, spec frontier.QuerySpec) (frontier.SearchResult, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	block, result, err := s.block, s.result, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return frontier.SearchResult{}, fmt.Errorf("search canceled: %w", ctx.Err())
	}
	return result, err
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

type fakeLookup struct {
	inFlight map[string]bool
	err      error
}

func (l *fakeLookup) Contains(_ context.Context, url string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return l.inFlight[url], nil
}

type fakeBuffer struct {
	mu       sync.Mutex
	entries  []frontier.Entry
	failFrom int
}

func (b *fakeBuffer) Append(_ context.Context, entry frontier.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFrom > 0 && len(b.entries) >= b.failFrom {
		return frontier.ErrBufferClosed
	}
	b.entries = append(b.entries, entry)
	return nil
}

func (b *fakeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *fakeBuffer) snapshot() []frontier.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]frontier.Entry(nil), b.entries...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	obs       []frontier.Observation
	deferrals int
	appended  int
}

func (r *fakeRecorder) Record(obs frontier.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
}

func (r *fakeRecorder) ObserveDeferral() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferrals++
}

func (r *fakeRecorder) ObserveAppended(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended += n
}

type fixedIDs struct{}

func (fixedIDs) NewID() string { return "cycle-1" }

var errLookup = errors.New("lookup unavailable")

func record(url, host string) frontier.RawRecord {
	src := map[string]any{
		"metadata": map[string]any{"hostname": host},
	}
	if url != "" {
		src["url"] = url
	}
	return frontier.RawRecord{ID: url, Source: src}
}

// sixCandidates returns three buckets of two candidates each.
func sixCandidates() frontier.SearchResult {
	return frontier.SearchResult{Buckets: []frontier.Bucket{
		{Partition: "a.com", Records: []frontier.RawRecord{
			record("https://a.com/1", "a.com"), record("https://a.com/2", "a.com"),
		}},
		{Partition: "b.com", Records: []frontier.RawRecord{
			record("https://b.com/1", "b.com"), record("https://b.com/2", "b.com"),
		}},
		{Partition: "c.com", Records: []frontier.RawRecord{
			record("https://c.com/1", "c.com"), record("https://c.com/2", "c.com"),
		}},
	}}
}
