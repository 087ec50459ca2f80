// Package notify decides which stored records go into the next digest,
// renders it, hands it to a delivery provider and records the outcome.
//
// Records are marked notified only after the provider accepted the digest,
// and the mark and the NotificationRecord are written in one transaction.
// A failed delivery leaves every record pending for the next run.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Selection is the input of one digest.
type Selection struct {
	Records []tender.Record
	// Summary lists every enabled source in configured order. Run is nil for
	// sources that have never run against this store.
	Summary     []tender.SourceStatus
	GeneratedAt time.Time
}

// Empty reports whether no records are pending.
func (s Selection) Empty() bool { return len(s.Records) == 0 }

// Selector reads pending records and run history from a store.
type Selector struct {
	store   store.Store
	sources []string
}

// NewSelector builds a Selector reporting on sources.
func NewSelector(st store.Store, sources []string) *Selector {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}
	return &Selector{store: st, sources: names}
}

// Select returns every matched record that was never notified, plus the
// latest run of each enabled source.
func (s *Selector) Select(ctx context.Context, now time.Time) (Selection, error) {
	records, err := s.store.RecordsNewSince(ctx, time.Time{})
	if err != nil {
		return Selection{}, store.Wrap("select pending", err)
	}
	runs, err := s.store.LatestRuns(ctx)
	if err != nil {
		return Selection{}, store.Wrap("latest runs", err)
	}

	latest := make(map[string]tender.RunRecord, len(runs))
	for _, run := range runs {
		latest[run.Source] = run
	}
	summary := make([]tender.SourceStatus, 0, len(s.sources))
	for _, name := range s.sources {
		status := tender.SourceStatus{Source: name}
		if run, ok := latest[name]; ok {
			status.Run = &run
		}
		summary = append(summary, status)
	}

	return Selection{Records: records, Summary: summary, GeneratedAt: now}, nil
}

// ConfirmSent marks records notified and logs a successful NotificationRecord
// atomically.
func (s *Selector) ConfirmSent(
	ctx context.Context,
	records []tender.Record,
	n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	n.Outcome = tender.DeliverySuccess
	n.IncludedCount = len(records)
	n.ErrorDetail = ""
	saved, err := s.store.ConfirmDelivery(ctx, tender.IDs(records), n)
	if err != nil {
		return tender.NotificationRecord{}, store.Wrap("confirm delivery", err)
	}
	return saved, nil
}

// RecordFailure logs a failed NotificationRecord. The records stay pending.
func (s *Selector) RecordFailure(
	ctx context.Context,
	records []tender.Record,
	n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	n.Outcome = tender.DeliveryFailure
	n.IncludedCount = len(records)
	saved, err := s.store.LogNotification(ctx, n)
	if err != nil {
		return tender.NotificationRecord{}, store.Wrap("log notification", err)
	}
	return saved, nil
}
