package tender

import (
	"context"
	"time"
)

// RunContext is built once per run and handed to every unit.
type RunContext struct {
	RunID   string
	Purpose string
	Started time.Time
	DryRun  bool
}

// Unit fetches listings from one external source.
type Unit interface {
	Name() string
	Fetch(ctx context.Context, rc RunContext) ([]RawRecord, error)
}

// Searcher is implemented by units that can filter at the source. The
// matcher is bypassed for their output; they set MatchedKeyword when known.
type Searcher interface {
	Unit
	Search(ctx context.Context, rc RunContext, terms []string) ([]RawRecord, error)
}

// Terminator is implemented by units that own a resource which must be
// killed when cooperative cancellation is not enough.
type Terminator interface {
	Terminate()
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
