package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock, Config{LockName: "test"}, nil)
	require.NoError(t, err)
	return s, mock
}

func sample(title string) tender.Record {
	return tender.NewRecord("bge", tender.RawRecord{Title: title, MatchedKeyword: "KI"}, time.Unix(1700000000, 0))
}

func TestUpsertSkipsDuplicates(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs(anyArgs(12)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs(anyArgs(12)...).
		WillReturnRows(mock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	n, inserted, err := s.Upsert(context.Background(), []tender.Record{sample("neu"), sample("bekannt")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, inserted, 1)
	assert.Equal(t, int64(7), inserted[0].ID)
	assert.Equal(t, "neu", inserted[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs(anyArgs(12)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs(anyArgs(12)...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	n, _, err := s.Upsert(context.Background(), []tender.Record{sample("a"), sample("b")})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, tender.IsStoreError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDeliveryCommitsTogether(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	sentAt := time.Unix(1700000100, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenders SET notified = TRUE").
		WithArgs(sentAt, []int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(anyArgs(6)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	n, err := s.ConfirmDelivery(context.Background(), []int64{1, 2}, tender.NotificationRecord{
		SentAt:        sentAt,
		RecipientSet:  "a@example.org",
		IncludedCount: 2,
		Outcome:       tender.DeliverySuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDeliveryRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenders SET notified = TRUE").
		WithArgs(anyArgs(2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(anyArgs(6)...).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := s.ConfirmDelivery(context.Background(), []int64{1}, tender.NotificationRecord{SentAt: time.Now()})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenAndCloseRun(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO runs").
		WithArgs("run-1", "ewn", start, "running").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("UPDATE runs SET end_time").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE runs SET end_time").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	run, err := s.OpenRun(context.Background(), "run-1", "ewn", start)
	require.NoError(t, err)
	assert.Equal(t, int64(11), run.ID)

	end := start.Add(time.Minute)
	run.EndTime = &end
	run.Outcome = tender.OutcomeSuccess
	_, err = s.LogRun(context.Background(), run)
	require.NoError(t, err)

	_, err = s.LogRun(context.Background(), run)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRunLock(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO run_locks").
		WithArgs("test", "owner-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO run_locks").
		WithArgs("test", "owner-2", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("DELETE FROM run_locks").
		WithArgs("test", "owner-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	release, err := s.AcquireRunLock(context.Background(), "owner-1")
	require.NoError(t, err)

	_, err = s.AcquireRunLock(context.Background(), "owner-2")
	assert.ErrorIs(t, err, store.ErrRunInProgress)

	require.NoError(t, release())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pgx5://u:p@db:5432/tenders", migrateURL("postgres://u:p@db:5432/tenders"))
	assert.Equal(t, "pgx5://db/tenders", migrateURL("postgresql://db/tenders"))
	assert.Equal(t, "pgx5://db/x", migrateURL("pgx5://db/x"))
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil, Config{}, nil)
	assert.Error(t, err)
}
