// Package events publishes run and digest summaries to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Providers understood by the config layer.
const (
	ProviderNoop   = "noop"
	ProviderMemory = "memory"
	ProviderPubSub = "pubsub"
)

// Type names the kind of event.
type Type string

// Event types.
const (
	TypeRunCompleted Type = "run.completed"
	TypeDigestSent   Type = "digest.sent"
	TypeDigestFailed Type = "digest.failed"
	TypeDigestSkip   Type = "digest.skipped"
)

// Event is the JSON payload handed to a Publisher.
type Event struct {
	Type       Type                  `json:"type"`
	RunID      string                `json:"run_id,omitempty"`
	Purpose    string                `json:"purpose"`
	TS         time.Time             `json:"ts"`
	Sources    []tender.SourceStatus `json:"sources,omitempty"`
	Found      int                   `json:"found"`
	New        int                   `json:"new"`
	Delivered  int                   `json:"delivered"`
	Subject    string                `json:"subject,omitempty"`
	ArchiveURI string                `json:"archive_uri,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Publisher delivers events and returns a transport-assigned id.
type Publisher interface {
	Publish(ctx context.Context, evt Event) (string, error)
}

// Noop drops every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) (string, error) { return "", nil }
