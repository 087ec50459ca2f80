package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/tender-watch/internal/store/memory"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(t, Config{}).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(&failingReader{err: errors.New("db down")}, Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(t, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(t, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, Config{APIKey: "secret"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	h := loggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pot", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.EqualValues(t, http.StatusTeapot, fields["status"])
	require.EqualValues(t, len("short and stout"), fields["bytes"])
	require.Equal(t, "/pot", fields["path"])
}

type failingReader struct{ err error }

func (f *failingReader) LatestRuns(context.Context) ([]tender.RunRecord, error) { return nil, f.err }

func (f *failingReader) RecordsNewSince(context.Context, time.Time) ([]tender.Record, error) {
	return nil, f.err
}

func (f *failingReader) Stats(context.Context) ([]tender.SourceStats, error) { return nil, f.err }

func (f *failingReader) RecentNotifications(context.Context, int) ([]tender.NotificationRecord, error) {
	return nil, f.err
}

var base = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

// seededStore holds one run for bge, two matched records (one delivered) and
// one unmatched record.
func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.NewWithClock(func() time.Time { return base })

	kw := "KI"
	recs := []tender.Record{
		{Source: "bge", Title: "KI-Projekt", URL: "https://bge.example/1", MatchedKeyword: &kw, FetchTime: base},
		{Source: "bge", Title: "KI-Plattform", URL: "https://bge.example/2", MatchedKeyword: &kw, FetchTime: base},
		{Source: "ewn", Title: "Rohrleitungen", URL: "https://ewn.example/1", FetchTime: base},
	}
	_, inserted, err := st.Upsert(ctx, recs)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	end := base.Add(time.Minute)
	_, err = st.LogRun(ctx, tender.RunRecord{
		RunID:        "run-1",
		Source:       "bge",
		StartTime:    base,
		EndTime:      &end,
		Outcome:      tender.OutcomeSuccess,
		RecordsFound: 2,
		RecordsNew:   2,
	})
	require.NoError(t, err)

	_, err = st.ConfirmDelivery(ctx, []int64{inserted[0].ID}, tender.NotificationRecord{
		SentAt:        end,
		RecipientSet:  "ops@example.com",
		Subject:       "Ausschreibungen BA",
		IncludedCount: 1,
		Outcome:       tender.DeliverySuccess,
	})
	require.NoError(t, err)
	return st
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Purpose == "" {
		cfg.Purpose = "BA"
	}
	return NewServer(seededStore(t), cfg, zap.NewNop())
}

func getJSON(t *testing.T, server *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}
