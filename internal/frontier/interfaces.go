package frontier

import (
	"context"
	"time"
)

// Store runs diversity-sampled queries against the durable frontier.
type Store interface {
	Search(ctx context.Context, spec QuerySpec) (SearchResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// InFlightLookup reports whether a URL is currently being processed.
type InFlightLookup interface {
	Contains(ctx context.Context, url string) (bool, error)
}

// InFlightTracker is the dispatch-side view of the in-flight set.
type InFlightTracker interface {
	InFlightLookup
	// Mark records url as in flight and reports false when it already was.
	Mark(ctx context.Context, url string) (bool, error)
	Release(ctx context.Context, url string) error
}

// Buffer is the producer side of the shared work buffer.
type Buffer interface {
	Append(ctx context.Context, entry Entry) error
	Len() int
}

// DrainableBuffer adds the consumer side.
type DrainableBuffer interface {
	Buffer
	Next(ctx context.Context) (Entry, error)
}

// MetadataBuilder converts a record source into entry metadata.
type MetadataBuilder func(source map[string]any) Metadata

// Recorder receives per-query observations. Implementations must not panic.
type Recorder interface {
	Record(obs Observation)
}

// Publisher pushes dispatched entries to downstream fetchers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle and message identifiers.
type IDGenerator interface {
	NewID() string
}
