// Package memory provides an in-memory store.Store for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Store keeps every table in maps guarded by a single mutex.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	records       []tender.Record
	keys          map[tender.Key]int64
	runs          []tender.RunRecord
	notifications []tender.NotificationRecord
	locked        bool
	// FailUpsert, when set, is returned by Upsert without writing anything.
	FailUpsert error
	// FailConfirm, when set, is returned by ConfirmDelivery without writing.
	FailConfirm error
}

var _ store.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:  func() time.Time { return time.Now().UTC() },
		keys: make(map[tender.Key]int64),
	}
}

// NewWithClock constructs an empty Store using now for created_at values.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

// Upsert implements store.Store.
func (s *Store) Upsert(_ context.Context, records []tender.Record) (int, []tender.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpsert != nil {
		return 0, nil, store.Wrap("upsert", s.FailUpsert)
	}
	now := s.now()
	var inserted []tender.Record
	for _, rec := range records {
		if rec.Title == "" {
			continue
		}
		key := rec.Key()
		if _, exists := s.keys[key]; exists {
			continue
		}
		rec.ID = int64(len(s.records) + 1)
		rec.CreatedAt = now
		rec.Notified = false
		rec.NotifiedAt = nil
		s.keys[key] = rec.ID
		s.records = append(s.records, rec)
		inserted = append(inserted, rec)
	}
	return len(inserted), inserted, nil
}

// RecordsNewSince implements store.Store.
func (s *Store) RecordsNewSince(_ context.Context, since time.Time) ([]tender.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tender.Record
	for _, rec := range s.records {
		if rec.Notified || rec.MatchedKeyword == nil {
			continue
		}
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if !out[i].FetchTime.Equal(out[j].FetchTime) {
			return out[i].FetchTime.Before(out[j].FetchTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkNotified implements store.Store.
func (s *Store) MarkNotified(_ context.Context, ids []int64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(ids, sentAt)
	return nil
}

func (s *Store) markLocked(ids []int64, sentAt time.Time) {
	at := sentAt.UTC()
	for _, id := range ids {
		idx := id - 1
		if idx < 0 || int(idx) >= len(s.records) || s.records[idx].Notified {
			continue
		}
		s.records[idx].Notified = true
		s.records[idx].NotifiedAt = &at
	}
}

// OpenRun implements store.Store.
func (s *Store) OpenRun(_ context.Context, runID, source string, start time.Time) (tender.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := tender.RunRecord{
		ID:        int64(len(s.runs) + 1),
		RunID:     runID,
		Source:    source,
		StartTime: start.UTC(),
		Outcome:   tender.OutcomeRunning,
	}
	s.runs = append(s.runs, run)
	return run, nil
}

// LogRun implements store.Store.
func (s *Store) LogRun(_ context.Context, run tender.RunRecord) (tender.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == 0 {
		run.ID = int64(len(s.runs) + 1)
		s.runs = append(s.runs, run)
		return run, nil
	}
	idx := run.ID - 1
	if idx < 0 || int(idx) >= len(s.runs) {
		return run, store.Wrap("log run", store.ErrNotFound)
	}
	s.runs[idx] = run
	return run, nil
}

// LatestRuns implements store.Store.
func (s *Store) LatestRuns(_ context.Context) ([]tender.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]tender.RunRecord)
	for _, run := range s.runs {
		latest[run.Source] = run
	}
	out := make([]tender.RunRecord, 0, len(latest))
	for _, run := range latest {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// Runs returns every run row in insertion order.
func (s *Store) Runs() []tender.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tender.RunRecord(nil), s.runs...)
}

// LogNotification implements store.Store.
func (s *Store) LogNotification(_ context.Context, n tender.NotificationRecord) (tender.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendNotificationLocked(n), nil
}

func (s *Store) appendNotificationLocked(n tender.NotificationRecord) tender.NotificationRecord {
	n.ID = int64(len(s.notifications) + 1)
	s.notifications = append(s.notifications, n)
	return n
}

// ConfirmDelivery implements store.Store.
func (s *Store) ConfirmDelivery(
	_ context.Context,
	ids []int64,
	n tender.NotificationRecord,
) (tender.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailConfirm != nil {
		return tender.NotificationRecord{}, store.Wrap("confirm delivery", s.FailConfirm)
	}
	s.markLocked(ids, n.SentAt)
	return s.appendNotificationLocked(n), nil
}

// RecentNotifications implements store.Store.
func (s *Store) RecentNotifications(_ context.Context, limit int) ([]tender.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tender.NotificationRecord, 0, len(s.notifications))
	for i := len(s.notifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.notifications[i])
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(_ context.Context) ([]tender.SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySource := make(map[string]*tender.SourceStats)
	for _, rec := range s.records {
		st, ok := bySource[rec.Source]
		if !ok {
			st = &tender.SourceStats{Source: rec.Source}
			bySource[rec.Source] = st
		}
		st.Total++
		switch {
		case rec.Notified:
			st.Notified++
		case rec.MatchedKeyword != nil:
			st.Pending++
		}
		created := rec.CreatedAt
		if st.LastSeen == nil || created.After(*st.LastSeen) {
			st.LastSeen = &created
		}
	}
	out := make([]tender.SourceStats, 0, len(bySource))
	for _, st := range bySource {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// AcquireRunLock implements store.Store.
func (s *Store) AcquireRunLock(_ context.Context, _ string) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, store.Wrap("acquire lock", store.ErrRunInProgress)
	}
	s.locked = true
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.locked = false
		return nil
	}, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }
