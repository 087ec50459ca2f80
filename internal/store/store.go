package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

var (
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRunInProgress signals that another run holds the store lock.
	ErrRunInProgress = errors.New("another run is in progress")
)

// Store persists tenders and the run and notification audit trails.
//
// Every error returned by an implementation is a *tender.StoreError.
// Duplicate inserts are not errors.
type Store interface {
	// Upsert inserts records not yet known under (source, external_id, url,
	// title) in one transaction. It returns the number of new rows and the
	// inserted records with their IDs and creation time set.
	Upsert(ctx context.Context, records []tender.Record) (int, []tender.Record, error)
	// RecordsNewSince returns unnotified, matched records created at or after
	// since, ordered by source and fetch time. A zero since returns all of
	// them.
	RecordsNewSince(ctx context.Context, since time.Time) ([]tender.Record, error)
	// MarkNotified flags the given records as notified.
	MarkNotified(ctx context.Context, ids []int64, sentAt time.Time) error

	// OpenRun writes a run row with outcome running.
	OpenRun(ctx context.Context, runID, source string, start time.Time) (tender.RunRecord, error)
	// LogRun closes the run row with the given ID, or inserts it when ID is 0.
	LogRun(ctx context.Context, run tender.RunRecord) (tender.RunRecord, error)
	// LatestRuns returns the most recent run row per source.
	LatestRuns(ctx context.Context) ([]tender.RunRecord, error)

	// LogNotification appends a notification row.
	LogNotification(ctx context.Context, n tender.NotificationRecord) (tender.NotificationRecord, error)
	// ConfirmDelivery marks ids notified and appends n in one transaction.
	ConfirmDelivery(ctx context.Context, ids []int64, n tender.NotificationRecord) (tender.NotificationRecord, error)
	// RecentNotifications returns up to limit notification rows, newest first.
	RecentNotifications(ctx context.Context, limit int) ([]tender.NotificationRecord, error)

	// Stats aggregates record counts per source.
	Stats(ctx context.Context) ([]tender.SourceStats, error)

	// AcquireRunLock fails with ErrRunInProgress when another run holds the
	// lock. The returned function releases it.
	AcquireRunLock(ctx context.Context, owner string) (release func() error, err error)

	Close() error
}

// Wrap converts err into a *tender.StoreError for op. It returns nil for a
// nil error and leaves existing StoreErrors untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *tender.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &tender.StoreError{Op: op, Err: err}
}
