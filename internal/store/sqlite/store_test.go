package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenders_test.db")
	s, err := Open(path, WithClock(&stepClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func matched(source, title, kw string) tender.Record {
	return tender.NewRecord(source, tender.RawRecord{
		ExternalID:     "id-" + title,
		URL:            "https://example.org/" + title,
		Title:          title,
		MatchedKeyword: kw,
	}, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	batch := []tender.Record{matched("bge", "A", "KI"), matched("bge", "B", "KI")}

	n, inserted, err := s.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, inserted, 2)
	assert.NotZero(t, inserted[0].ID)
	assert.False(t, inserted[0].CreatedAt.IsZero())

	n, inserted, err = s.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, inserted)
}

func TestUpsertDedupsMissingIdentifiers(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	rec := tender.NewRecord("ewn", tender.RawRecord{Title: "Ohne Kennung"}, time.Now())
	n, _, err := s.Upsert(ctx, []tender.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _, err = s.Upsert(ctx, []tender.Record{rec})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertFirstSeenWins(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	first := matched("bge", "A", "KI")
	first.Deadline = "01.04.2026"
	_, _, err := s.Upsert(ctx, []tender.Record{first})
	require.NoError(t, err)

	changed := first
	changed.Deadline = "15.04.2026"
	n, _, err := s.Upsert(ctx, []tender.Record{changed})
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.RecordsNewSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "01.04.2026", got[0].Deadline)
}

func TestRecordsNewSinceExcludesNotified(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	var batch []tender.Record
	for i := 5; i > 0; i-- {
		batch = append(batch, matched("fraunhofer", fmt.Sprintf("T%d", i), "KI"))
	}
	batch = append(batch, tender.NewRecord("bge", tender.RawRecord{Title: "unmatched"}, time.Now()))

	_, inserted, err := s.Upsert(ctx, batch)
	require.NoError(t, err)
	require.Len(t, inserted, 6)

	require.NoError(t, s.MarkNotified(ctx, []int64{inserted[1].ID, inserted[3].ID}, time.Now()))

	got, err := s.RecordsNewSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	titles := []string{got[0].Title, got[1].Title, got[2].Title}
	assert.ElementsMatch(t, []string{"T5", "T3", "T1"}, titles)
	for _, r := range got {
		assert.False(t, r.Notified)
		assert.Equal(t, "KI", r.Keyword())
	}
}

func TestRecordsNewSinceHonorsTimestamp(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	_, first, err := s.Upsert(ctx, []tender.Record{matched("bge", "old", "KI")})
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, []tender.Record{matched("bge", "new", "KI")})
	require.NoError(t, err)

	got, err := s.RecordsNewSince(ctx, first[0].CreatedAt.Add(500*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Title)
}

func TestReadsProceedDuringPendingWrite(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, []tender.Record{matched("bge", "committed", "KI")})
	require.NoError(t, err)
	_, err = s.OpenRun(ctx, "run-1", "bge", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	_, err = tx.ExecContext(ctx, `INSERT INTO tenders (source, matched_keyword, fetch_time, title, created_at)
		VALUES ('bge', 'KI', ?, 'uncommitted', ?)`, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (source, start_time, outcome) VALUES ('ewn', ?, 'running')`,
		time.Now().UTC())
	require.NoError(t, err)

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pending, err := s.RecordsNewSince(readCtx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "committed", pending[0].Title)

	runs, err := s.LatestRuns(readCtx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bge", runs[0].Source)
	assert.Equal(t, tender.OutcomeRunning, runs[0].Outcome)
}

func TestConfirmDeliveryIsAtomic(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	_, inserted, err := s.Upsert(ctx, []tender.Record{matched("bge", "A", "KI"), matched("ewn", "B", "KI")})
	require.NoError(t, err)

	n, err := s.ConfirmDelivery(ctx, tender.IDs(inserted), tender.NotificationRecord{
		SentAt:        time.Now(),
		RecipientSet:  "a@example.org",
		Subject:       "Ausschreibungen test",
		IncludedCount: 2,
		Outcome:       tender.DeliverySuccess,
	})
	require.NoError(t, err)
	assert.NotZero(t, n.ID)

	got, err := s.RecordsNewSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)

	history, err := s.RecentNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].IncludedCount)
	assert.Equal(t, tender.DeliverySuccess, history[0].Outcome)
}

func TestRunsLifecycle(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	run, err := s.OpenRun(ctx, "run-1", "bge", start)
	require.NoError(t, err)
	assert.Equal(t, tender.OutcomeRunning, run.Outcome)

	end := start.Add(time.Minute)
	run.EndTime = &end
	run.Outcome = tender.OutcomeSuccess
	run.RecordsFound = 4
	run.RecordsNew = 2
	_, err = s.LogRun(ctx, run)
	require.NoError(t, err)

	_, err = s.LogRun(ctx, tender.RunRecord{
		RunID: "run-1", Source: "ewn", StartTime: start, EndTime: &end,
		Outcome: tender.OutcomeFailure, ErrorDetail: "boom",
	})
	require.NoError(t, err)

	second, err := s.OpenRun(ctx, "run-2", "bge", start.Add(time.Hour))
	require.NoError(t, err)

	latest, err := s.LatestRuns(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "bge", latest[0].Source)
	assert.Equal(t, second.ID, latest[0].ID)
	assert.Equal(t, tender.OutcomeRunning, latest[0].Outcome)
	assert.Equal(t, "ewn", latest[1].Source)
	assert.Equal(t, "boom", latest[1].ErrorDetail)
	require.NotNil(t, latest[1].EndTime)
	assert.True(t, latest[1].EndTime.Equal(end))

	_, err = s.LogRun(ctx, tender.RunRecord{ID: 9999, Outcome: tender.OutcomeFailure})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStats(t *testing.T) {
	t.Parallel()
	s, _ := testStore(t)
	ctx := context.Background()

	_, inserted, err := s.Upsert(ctx, []tender.Record{
		matched("bge", "A", "KI"),
		matched("bge", "B", "KI"),
		tender.NewRecord("bge", tender.RawRecord{Title: "C"}, time.Now()),
		matched("ewn", "D", "KI"),
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkNotified(ctx, []int64{inserted[0].ID}, time.Now()))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, tender.SourceStats{Source: "bge", Total: 3, Pending: 1, Notified: 1, LastSeen: stats[0].LastSeen}, stats[0])
	require.NotNil(t, stats[0].LastSeen)
	assert.Equal(t, 1, stats[1].Pending)
}

func TestRunLockFailsFast(t *testing.T) {
	t.Parallel()
	s, path := testStore(t)
	ctx := context.Background()

	release, err := s.AcquireRunLock(ctx, "first")
	require.NoError(t, err)

	other, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = other.Close() }()

	_, err = other.AcquireRunLock(ctx, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrRunInProgress)
	assert.True(t, tender.IsStoreError(err))

	require.NoError(t, release())
	release2, err := other.AcquireRunLock(ctx, "second")
	require.NoError(t, err)
	require.NoError(t, release2())
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlite"), nil), mock
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT OR IGNORE INTO tenders")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	n, inserted, err := s.Upsert(context.Background(), []tender.Record{
		matched("bge", "A", "KI"),
		matched("bge", "B", "KI"),
	})
	require.Error(t, err)
	assert.True(t, tender.IsStoreError(err))
	assert.Zero(t, n)
	assert.Nil(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDeliveryRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenders SET notified = 1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO notifications").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := s.ConfirmDelivery(context.Background(), []int64{1, 2}, tender.NotificationRecord{
		SentAt:  time.Now(),
		Outcome: tender.DeliverySuccess,
	})
	require.Error(t, err)
	var se *tender.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "confirm delivery", se.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}
