// Package sqlite implements store.Store on an embedded SQLite database in WAL
// mode. Writes go through a single connection; reads use a separate
// read-only handle so they do not block on a pending write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// timeLayout matches the driver's _time_format=sqlite encoding.
const timeLayout = "2006-01-02 15:04:05.999999999-07:00"

const insertRecord = `INSERT OR IGNORE INTO tenders (
	source, matched_keyword, fetch_time, external_id, url, title,
	organization, location, category, deadline, published, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertNotification = `INSERT INTO notifications (
	sent_at, recipient_set, subject, included_count, outcome, error_detail
) VALUES (?, ?, ?, ?, ?, ?)`

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at values.
func WithClock(c tender.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the SQLite-backed store.Store.
type Store struct {
	writeDB *sqlx.DB
	readDB  *sqlx.DB
	lock    *flock.Flock
	clock   tender.Clock
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Open creates the database file and schema if needed and returns a Store.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, store.Wrap("open", errors.New("database path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, store.Wrap("open", fmt.Errorf("create data dir: %w", err))
	}

	writeDB, err := sqlx.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, store.Wrap("open", fmt.Errorf("open write db: %w", err))
	}
	writeDB.SetMaxOpenConns(1)
	if _, err := writeDB.Exec(schema); err != nil {
		_ = writeDB.Close()
		return nil, store.Wrap("open", fmt.Errorf("initialize schema: %w", err))
	}

	readDB, err := sqlx.Open("sqlite", dsn(path, true))
	if err != nil {
		_ = writeDB.Close()
		return nil, store.Wrap("open", fmt.Errorf("open read db: %w", err))
	}

	s := NewWithDB(writeDB, readDB, opts...)
	s.lock = flock.New(path + ".lock")
	s.logger.Debug("sqlite store opened", zap.String("path", path))
	return s, nil
}

// NewWithDB wraps existing handles. The schema is not created.
func NewWithDB(writeDB, readDB *sqlx.DB, opts ...Option) *Store {
	if readDB == nil {
		readDB = writeDB
	}
	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		clock:   utcClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func dsn(path string, readOnly bool) string {
	if readOnly {
		return "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite"
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, records []tender.Record) (int, []tender.Record, error) {
	if len(records) == 0 {
		return 0, nil, nil
	}
	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, store.Wrap("upsert", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return 0, nil, store.Wrap("upsert", fmt.Errorf("prepare: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	inserted := make([]tender.Record, 0, len(records))
	for _, rec := range records {
		if rec.Title == "" {
			s.logger.Debug("skipping record without title", zap.String("source", rec.Source))
			continue
		}
		res, err := stmt.ExecContext(ctx,
			rec.Source, rec.MatchedKeyword, rec.FetchTime.UTC(), rec.ExternalID, rec.URL, rec.Title,
			rec.Organization, rec.Location, rec.Category, rec.Deadline, rec.Published, now,
		)
		if err != nil {
			return 0, nil, store.Wrap("upsert", fmt.Errorf("insert %q: %w", rec.Title, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, nil, store.Wrap("upsert", fmt.Errorf("rows affected: %w", err))
		}
		if n == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, nil, store.Wrap("upsert", fmt.Errorf("last insert id: %w", err))
		}
		rec.ID = id
		rec.CreatedAt = now
		rec.Notified = false
		rec.NotifiedAt = nil
		inserted = append(inserted, rec)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, store.Wrap("upsert", fmt.Errorf("commit: %w", err))
	}
	return len(inserted), inserted, nil
}

// RecordsNewSince implements store.Store.
func (s *Store) RecordsNewSince(ctx context.Context, since time.Time) ([]tender.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM tenders
		WHERE notified = 0 AND matched_keyword IS NOT NULL`
	var args []any
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY source, fetch_time, id`

	var out []tender.Record
	if err := s.readDB.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, store.Wrap("records new since", err)
	}
	return out, nil
}

// MarkNotified implements store.Store.
func (s *Store) MarkNotified(ctx context.Context, ids []int64, sentAt time.Time) error {
	return store.Wrap("mark notified", markNotified(ctx, s.writeDB, ids, sentAt))
}

func markNotified(ctx context.Context, ex sqlx.ExecerContext, ids []int64, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE tenders SET notified = 1, notified_at = ? WHERE notified = 0 AND id IN (?)`,
		sentAt.UTC(), ids,
	)
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update tenders: %w", err)
	}
	return nil
}

// OpenRun implements store.Store.
func (s *Store) OpenRun(ctx context.Context, runID, source string, start time.Time) (tender.RunRecord, error) {
	run := tender.RunRecord{
		RunID:     runID,
		Source:    source,
		StartTime: start.UTC(),
		Outcome:   tender.OutcomeRunning,
	}
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, start_time, outcome) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Source, run.StartTime, run.Outcome,
	)
	if err != nil {
		return tender.RunRecord{}, store.Wrap("open run", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return tender.RunRecord{}, store.Wrap("open run", err)
	}
	return run, nil
}

// LogRun implements store.Store.
func (s *Store) LogRun(ctx context.Context, run tender.RunRecord) (tender.RunRecord, error) {
	run.StartTime = run.StartTime.UTC()
	if run.EndTime != nil {
		end := run.EndTime.UTC()
		run.EndTime = &end
	}
	if run.ID == 0 {
		res, err := s.writeDB.ExecContext(ctx,
			`INSERT INTO runs (run_id, source, start_time, end_time, outcome, records_found, records_new, error_detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Source, run.StartTime, run.EndTime, run.Outcome,
			run.RecordsFound, run.RecordsNew, run.ErrorDetail,
		)
		if err != nil {
			return run, store.Wrap("log run", err)
		}
		if run.ID, err = res.LastInsertId(); err != nil {
			return run, store.Wrap("log run", err)
		}
		return run, nil
	}

	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE runs SET end_time = ?, outcome = ?, records_found = ?, records_new = ?, error_detail = ?
		WHERE id = ?`,
		run.EndTime, run.Outcome, run.RecordsFound, run.RecordsNew, run.ErrorDetail, run.ID,
	)
	if err != nil {
		return run, store.Wrap("log run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return run, store.Wrap("log run", err)
	}
	if n == 0 {
		return run, store.Wrap("log run", fmt.Errorf("run %d: %w", run.ID, store.ErrNotFound))
	}
	return run, nil
}

// LatestRuns implements store.Store.
func (s *Store) LatestRuns(ctx context.Context) ([]tender.RunRecord, error) {
	var out []tender.RunRecord
	err := s.readDB.SelectContext(ctx, &out, `SELECT `+runColumns+`
		FROM runs
		WHERE id IN (SELECT MAX(id) FROM runs GROUP BY source)
		ORDER BY source`)
	if err != nil {
		return nil, store.Wrap("latest runs", err)
	}
	return out, nil
}

// LogNotification implements store.Store.
func (s *Store) LogNotification(ctx context.Context, n tender.NotificationRecord) (tender.NotificationRecord, error) {
	n, err := logNotification(ctx, s.writeDB, n)
	return n, store.Wrap("log notification", err)
}

func logNotification(ctx context.Context, ex sqlx.ExecerContext, n tender.NotificationRecord) (tender.NotificationRecord, error) {
	n.SentAt = n.SentAt.UTC()
	res, err := ex.ExecContext(ctx, insertNotification,
		n.SentAt, n.RecipientSet, n.Subject, n.IncludedCount, n.Outcome, n.ErrorDetail,
	)
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return n, fmt.Errorf("last insert id: %w", err)
	}
	return n, nil
}

// ConfirmDelivery implements store.Store.
func (s *Store) ConfirmDelivery(
	ctx context.Context,
	ids []int64,
	n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return n, store.Wrap("confirm delivery", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := markNotified(ctx, tx, ids, n.SentAt); err != nil {
		return n, store.Wrap("confirm delivery", err)
	}
	n, err = logNotification(ctx, tx, n)
	if err != nil {
		return n, store.Wrap("confirm delivery", err)
	}
	if err := tx.Commit(); err != nil {
		return n, store.Wrap("confirm delivery", fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

// RecentNotifications implements store.Store.
func (s *Store) RecentNotifications(ctx context.Context, limit int) ([]tender.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []tender.NotificationRecord
	err := s.readDB.SelectContext(ctx, &out,
		`SELECT `+notificationColumns+` FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, store.Wrap("recent notifications", err)
	}
	return out, nil
}

type statsRow struct {
	Source   string         `db:"source"`
	Total    int            `db:"total"`
	Pending  int            `db:"pending"`
	Notified int            `db:"notified"`
	LastSeen sql.NullString `db:"last_seen"`
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) ([]tender.SourceStats, error) {
	var rows []statsRow
	err := s.readDB.SelectContext(ctx, &rows, `SELECT source,
			COUNT(*) AS total,
			SUM(CASE WHEN notified = 0 AND matched_keyword IS NOT NULL THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN notified = 1 THEN 1 ELSE 0 END) AS notified,
			MAX(created_at) AS last_seen
		FROM tenders GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, store.Wrap("stats", err)
	}
	out := make([]tender.SourceStats, 0, len(rows))
	for _, r := range rows {
		st := tender.SourceStats{Source: r.Source, Total: r.Total, Pending: r.Pending, Notified: r.Notified}
		if r.LastSeen.Valid {
			if ts, err := parseTime(r.LastSeen.String); err == nil {
				st.LastSeen = &ts
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// AcquireRunLock implements store.Store with an exclusive lock file next to
// the database.
func (s *Store) AcquireRunLock(_ context.Context, owner string) (func() error, error) {
	if s.lock == nil {
		return func() error { return nil }, nil
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, store.Wrap("acquire lock", err)
	}
	if !locked {
		return nil, store.Wrap("acquire lock", fmt.Errorf("%s: %w", s.lock.Path(), store.ErrRunInProgress))
	}
	s.logger.Debug("run lock acquired", zap.String("owner", owner), zap.String("path", s.lock.Path()))
	return s.lock.Unlock, nil
}

// Close releases both database handles.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil && s.readDB != s.writeDB {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}
