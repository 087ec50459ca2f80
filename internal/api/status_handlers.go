package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

const (
	defaultNotificationsLimit = 20
	maxNotificationsLimit     = 200
)

// StatusReader is the read-only slice of store.Store the status API needs.
type StatusReader interface {
	LatestRuns(ctx context.Context) ([]tender.RunRecord, error)
	RecordsNewSince(ctx context.Context, since time.Time) ([]tender.Record, error)
	Stats(ctx context.Context) ([]tender.SourceStats, error)
	RecentNotifications(ctx context.Context, limit int) ([]tender.NotificationRecord, error)
}

// StatusHandler serves run, record and notification state.
type StatusHandler struct {
	reader  StatusReader
	purpose string
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatusHandler constructs a handler bound to reader.
func NewStatusHandler(reader StatusReader, purpose string, timeout time.Duration, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &StatusHandler{reader: reader, purpose: purpose, timeout: timeout, logger: logger}
}

// Ready reports 200 once the store answers a cheap query.
func (h *StatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if _, err := h.reader.Stats(ctx); err != nil {
		h.logger.Warn("readiness probe failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// LatestRuns handles GET /api/runs.
func (h *StatusHandler) LatestRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.reader.LatestRuns(ctx)
	if err != nil {
		h.logger.Error("latest runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []tender.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purpose": h.purpose,
		"runs":    runs,
	})
}

// Pending handles GET /api/pending?since=RFC3339. Without since every
// undelivered matched record is returned.
func (h *StatusHandler) Pending(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.reader.RecordsNewSince(ctx, since)
	if err != nil {
		h.logger.Error("pending records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pending records")
		return
	}
	if records == nil {
		records = []tender.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purpose": h.purpose,
		"count":   len(records),
		"records": records,
	})
}

// Stats handles GET /api/stats.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.reader.Stats(ctx)
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if stats == nil {
		stats = []tender.SourceStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purpose": h.purpose,
		"sources": stats,
	})
}

// Notifications handles GET /api/notifications?limit=N, newest first.
func (h *StatusHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultNotificationsLimit, maxNotificationsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items, err := h.reader.RecentNotifications(ctx, limit)
	if err != nil {
		h.logger.Error("recent notifications failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []tender.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purpose":       h.purpose,
		"notifications": items,
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid since, want RFC3339")
	}
	return ts.UTC(), nil
}
