package populator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Filter walks every bucket of result in store order, drops candidates that
// are already in flight or lack a url, and converts the rest into entries.
// A lookup error aborts the walk; nothing has been appended at that point.
func Filter(
	ctx context.Context,
	result frontier.SearchResult,
	lookup frontier.InFlightLookup,
	build frontier.MetadataBuilder,
	logger *zap.Logger,
) ([]frontier.Entry, frontier.FilterStats, error) {
	if build == nil {
		build = frontier.FromKeyValues
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats frontier.FilterStats
	entries := make([]frontier.Entry, 0, result.Total())
	for _, bucket := range result.Buckets {
		for _, rec := range bucket.Records {
			url, ok := rec.URL()
			if !ok {
				stats.Malformed++
				logger.Debug("skipping candidate without url",
					zap.String("id", rec.ID),
					zap.String("partition", bucket.Partition))
				continue
			}
			if lookup != nil {
				inFlight, err := lookup.Contains(ctx, url)
				if err != nil {
					return nil, stats, fmt.Errorf("in-flight lookup %q: %w", url, err)
				}
				if inFlight {
					stats.Duplicates++
					continue
				}
			}
			stats.Seen++
			entries = append(entries, frontier.Entry{URL: url, Metadata: build(rec.Source)})
		}
	}
	return entries, stats, nil
}
