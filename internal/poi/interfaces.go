package poi

import (
	"context"
	"time"
)

// PageSearcher fetches one page of upstream results.
type PageSearcher interface {
	SearchPage(ctx context.Context, query SearchQuery) (Page, error)
}

// ResultStore persists aggregates and serves them back.
type ResultStore interface {
	// Save stores the aggregate and returns an opaque handle locating it.
	// Saving the same keyword and day twice must not duplicate records.
	Save(ctx context.Context, agg Aggregate) (string, error)
	// Load returns the aggregate for keyword on day. A zero day selects the
	// most recent one.
	Load(ctx context.Context, keyword string, day time.Time) (Aggregate, error)
	// Keywords lists every keyword with at least one saved aggregate.
	Keywords(ctx context.Context) ([]string, error)
	// Dates lists the saved days for keyword, newest first.
	Dates(ctx context.Context, keyword string) ([]time.Time, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
