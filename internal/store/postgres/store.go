// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

const (
	defaultLockName = "tenderwatch"
	defaultLockTTL  = 2 * time.Hour
)

// Config controls the Postgres connection pool and run lock.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// LockName scopes the run lock, usually to a purpose.
	LockName string
	// LockTTL is how long a lock row is honored before it counts as stale.
	LockTTL time.Duration
	// Migrate applies the embedded schema migrations on open.
	Migrate bool
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store is the Postgres-backed store.Store.
type Store struct {
	pool     pool
	lockName string
	lockTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres, optionally migrating the schema first.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, store.Wrap("open", errors.New("store.postgres.dsn is required"))
	}
	if cfg.Migrate {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, store.Wrap("migrate", err)
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, store.Wrap("open", fmt.Errorf("parse postgres dsn: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, store.Wrap("open", fmt.Errorf("connect postgres: %w", err))
	}
	return NewWithPool(p, cfg, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:     p,
		lockName: cfg.LockName,
		lockTTL:  cfg.LockTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	if s.lockName == "" {
		s.lockName = defaultLockName
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s, nil
}

const insertRecord = `
INSERT INTO tenders (
	source, matched_keyword, fetch_time, external_id, url, title,
	organization, location, category, deadline, published, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT ON CONSTRAINT tenders_identity DO NOTHING
RETURNING id`

const recordColumns = `id, source, matched_keyword, fetch_time, external_id, url, title,
	organization, location, category, deadline, published, notified, notified_at, created_at`

const runColumns = `id, run_id, source, start_time, end_time, outcome, records_found, records_new, error_detail`

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, records []tender.Record) (int, []tender.Record, error) {
	if len(records) == 0 {
		return 0, nil, nil
	}
	now := s.now()
	var inserted []tender.Record
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inserted = make([]tender.Record, 0, len(records))
		for _, rec := range records {
			if rec.Title == "" {
				continue
			}
			var id int64
			err := tx.QueryRow(ctx, insertRecord,
				rec.Source, rec.MatchedKeyword, rec.FetchTime.UTC(), rec.ExternalID, rec.URL, rec.Title,
				rec.Organization, rec.Location, rec.Category, rec.Deadline, rec.Published, now,
			).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert %q: %w", rec.Title, err)
			}
			rec.ID = id
			rec.CreatedAt = now
			rec.Notified = false
			rec.NotifiedAt = nil
			inserted = append(inserted, rec)
		}
		return nil
	})
	if err != nil {
		return 0, nil, store.Wrap("upsert", err)
	}
	return len(inserted), inserted, nil
}

// RecordsNewSince implements store.Store.
func (s *Store) RecordsNewSince(ctx context.Context, since time.Time) ([]tender.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM tenders
		WHERE notified = FALSE AND matched_keyword IS NOT NULL`
	var args []any
	if !since.IsZero() {
		query += ` AND created_at >= $1`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY source, fetch_time, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("records new since", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[tender.Record])
	if err != nil {
		return nil, store.Wrap("records new since", err)
	}
	return out, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func markNotified(ctx context.Context, ex execer, ids []int64, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ex.Exec(ctx,
		`UPDATE tenders SET notified = TRUE, notified_at = $1 WHERE notified = FALSE AND id = ANY($2)`,
		sentAt.UTC(), ids,
	)
	if err != nil {
		return fmt.Errorf("update tenders: %w", err)
	}
	return nil
}

// MarkNotified implements store.Store.
func (s *Store) MarkNotified(ctx context.Context, ids []int64, sentAt time.Time) error {
	return store.Wrap("mark notified", markNotified(ctx, s.pool, ids, sentAt))
}

// OpenRun implements store.Store.
func (s *Store) OpenRun(ctx context.Context, runID, source string, start time.Time) (tender.RunRecord, error) {
	run := tender.RunRecord{RunID: runID, Source: source, StartTime: start.UTC(), Outcome: tender.OutcomeRunning}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO runs (run_id, source, start_time, outcome) VALUES ($1, $2, $3, $4) RETURNING id`,
		run.RunID, run.Source, run.StartTime, string(run.Outcome),
	).Scan(&run.ID)
	if err != nil {
		return tender.RunRecord{}, store.Wrap("open run", err)
	}
	return run, nil
}

// LogRun implements store.Store.
func (s *Store) LogRun(ctx context.Context, run tender.RunRecord) (tender.RunRecord, error) {
	if run.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO runs (run_id, source, start_time, end_time, outcome, records_found, records_new, error_detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			run.RunID, run.Source, run.StartTime.UTC(), run.EndTime, string(run.Outcome),
			run.RecordsFound, run.RecordsNew, run.ErrorDetail,
		).Scan(&run.ID)
		if err != nil {
			return run, store.Wrap("log run", err)
		}
		return run, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET end_time = $1, outcome = $2, records_found = $3, records_new = $4, error_detail = $5
		WHERE id = $6`,
		run.EndTime, string(run.Outcome), run.RecordsFound, run.RecordsNew, run.ErrorDetail, run.ID,
	)
	if err != nil {
		return run, store.Wrap("log run", err)
	}
	if tag.RowsAffected() == 0 {
		return run, store.Wrap("log run", fmt.Errorf("run %d: %w", run.ID, store.ErrNotFound))
	}
	return run, nil
}

// LatestRuns implements store.Store.
func (s *Store) LatestRuns(ctx context.Context) ([]tender.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (source) `+runColumns+`
		FROM runs ORDER BY source, id DESC`)
	if err != nil {
		return nil, store.Wrap("latest runs", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[tender.RunRecord])
	if err != nil {
		return nil, store.Wrap("latest runs", err)
	}
	return out, nil
}

func logNotification(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	n.SentAt = n.SentAt.UTC()
	err := q.QueryRow(ctx,
		`INSERT INTO notifications (sent_at, recipient_set, subject, included_count, outcome, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		n.SentAt, n.RecipientSet, n.Subject, n.IncludedCount, string(n.Outcome), n.ErrorDetail,
	).Scan(&n.ID)
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// LogNotification implements store.Store.
func (s *Store) LogNotification(ctx context.Context, n tender.NotificationRecord) (tender.NotificationRecord, error) {
	n, err := logNotification(ctx, s.pool, n)
	return n, store.Wrap("log notification", err)
}

// ConfirmDelivery implements store.Store.
func (s *Store) ConfirmDelivery(
	ctx context.Context,
	ids []int64,
	n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := markNotified(ctx, tx, ids, n.SentAt); err != nil {
			return err
		}
		var err error
		n, err = logNotification(ctx, tx, n)
		return err
	})
	return n, store.Wrap("confirm delivery", err)
}

// RecentNotifications implements store.Store.
func (s *Store) RecentNotifications(ctx context.Context, limit int) ([]tender.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT id, sent_at, recipient_set, subject, included_count, outcome, error_detail
		FROM notifications ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, store.Wrap("recent notifications", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[tender.NotificationRecord])
	if err != nil {
		return nil, store.Wrap("recent notifications", err)
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) ([]tender.SourceStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT source,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE NOT notified AND matched_keyword IS NOT NULL) AS pending,
			COUNT(*) FILTER (WHERE notified) AS notified,
			MAX(created_at) AS last_seen
		FROM tenders GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, store.Wrap("stats", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[tender.SourceStats])
	if err != nil {
		return nil, store.Wrap("stats", err)
	}
	return out, nil
}

// AcquireRunLock implements store.Store with a lease row in run_locks. A row
// older than the lock TTL is taken over.
func (s *Store) AcquireRunLock(ctx context.Context, owner string) (func() error, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO run_locks (name, owner, acquired_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at
WHERE run_locks.acquired_at < $4`,
		s.lockName, owner, now, now.Add(-s.lockTTL),
	)
	if err != nil {
		return nil, store.Wrap("acquire lock", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.Wrap("acquire lock", fmt.Errorf("%s: %w", s.lockName, store.ErrRunInProgress))
	}
	s.logger.Debug("run lock acquired", zap.String("lock", s.lockName), zap.String("owner", owner))
	return func() error {
		_, err := s.pool.Exec(context.Background(),
			`DELETE FROM run_locks WHERE name = $1 AND owner = $2`, s.lockName, owner)
		return store.Wrap("release lock", err)
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
