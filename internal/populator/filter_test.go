package populator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

func TestFilterScenario(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{inFlight: map[string]bool{
		"https://a.com/1": true,
		"https://b.com/2": true,
	}}
	entries, stats, err := Filter(context.Background(), sixCandidates(), lookup, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, 2, stats.Duplicates)
	require.Equal(t, 4, stats.Seen)

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.URL)
	}
	require.Equal(t, []string{"https://a.com/2", "https://b.com/1", "https://c.com/1", "https://c.com/2"}, urls)
}

func TestFilterUsesMetadataBuilder(t *testing.T) {
	t.Parallel()

	build := func(src map[string]any) frontier.Metadata {
		return frontier.Metadata{"custom": {fmt.Sprint(src["url"])}}
	}
	entries, _, err := Filter(context.Background(), sixCandidates(), nil, build, nil)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	require.Equal(t, "https://a.com/1", entries[0].Metadata.First("custom"))
}

func TestFilterAccountingProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 200; round++ {
		var result frontier.SearchResult
		inFlight := map[string]bool{}
		for b := 0; b < rng.IntN(6); b++ {
			host := fmt.Sprintf("h%d.com", b)
			bucket := frontier.Bucket{Partition: host}
			for r := 0; r < rng.IntN(5); r++ {
				url := fmt.Sprintf("https://%s/%d", host, r)
				switch rng.IntN(4) {
				case 0:
					bucket.Records = append(bucket.Records, record("", host))
					continue
				case 1:
					inFlight[url] = true
				}
				bucket.Records = append(bucket.Records, record(url, host))
			}
			result.Buckets = append(result.Buckets, bucket)
		}

		entries, stats, err := Filter(context.Background(), result, &fakeLookup{inFlight: inFlight}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, result.Total(), stats.Total())
		require.Len(t, entries, stats.Seen)
		for _, e := range entries {
			require.False(t, inFlight[e.URL])
		}
	}
}

func TestFilterLookupError(t *testing.T) {
	t.Parallel()

	_, _, err := Filter(context.Background(), sixCandidates(), &fakeLookup{err: errLookup}, nil, nil)
	require.ErrorIs(t, err, errLookup)
	require.ErrorContains(t, err, "in-flight lookup")
}
