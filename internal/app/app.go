// Package app wires the long-lived services of one purpose and drives a
// complete run: fetch, match, store, notify.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/clock/system"
	"github.com/JakeFAU/tender-watch/internal/config"
	"github.com/JakeFAU/tender-watch/internal/events"
	"github.com/JakeFAU/tender-watch/internal/keyword"
	"github.com/JakeFAU/tender-watch/internal/metrics"
	"github.com/JakeFAU/tender-watch/internal/notify"
	"github.com/JakeFAU/tender-watch/internal/progress"
	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/supervisor"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Options are the per-invocation switches of a run.
type Options struct {
	Purpose string
	// Sources replaces the configured enabled list when non-empty.
	Sources   []string
	SkipEmail bool
	DryRun    bool
	Version   string
}

// ConfigError marks failures caused by unusable configuration, purpose files
// or keyword files.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigError{Err: err}
}

// ErrCancelled is returned by Run when the run context was cancelled before
// the pipeline completed. No digest is sent in that case.
var ErrCancelled = errors.New("run cancelled")

// App holds the shared services of one purpose.
type App struct {
	cfg     config.Config
	opts    Options
	purpose config.Purpose
	logger  *zap.Logger
	clock   *system.Clock
	ids     tender.IDGenerator

	store      store.Store
	matcher    *keyword.Matcher
	units      []tender.Unit
	sources    []string
	supervisor *supervisor.Supervisor
	notifier   *notify.Notifier
	publisher  events.Publisher

	hub      *progress.Hub
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	closers  []func() error
}

// Summary is what one Run produced.
type Summary struct {
	RunID   string
	Report  supervisor.Report
	Pending int
	Digest  *notify.Result
}

// Store exposes the record store.
func (a *App) Store() store.Store { return a.store }

// Logger returns the purpose logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Sources lists the sources that will run, in order.
func (a *App) Sources() []string { return append([]string(nil), a.sources...) }

// Run executes one complete pipeline cycle. Unit failures are reported in
// the summary; errors are returned for store failures, a held run lock and
// cancellation.
func (a *App) Run(ctx context.Context) (Summary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))
	sum := Summary{RunID: runID}

	if !a.opts.DryRun {
		release, err := a.store.AcquireRunLock(ctx, runID)
		if err != nil {
			return sum, err
		}
		defer func() {
			if err := release(); err != nil {
				logger.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	rc := tender.RunContext{
		RunID:   runID,
		Purpose: a.purpose.Name,
		Started: a.clock.Now(),
		DryRun:  a.opts.DryRun,
	}
	logger.Info("tender-watch started",
		zap.String("version", a.opts.Version),
		zap.Strings("sources", a.sources),
		zap.Int("keywords", a.matcher.Len()),
		zap.Bool("dry_run", a.opts.DryRun),
		zap.Bool("skip_email", a.opts.SkipEmail))

	report, err := a.supervisor.Run(ctx, rc, a.units)
	sum.Report = report
	if err != nil {
		return sum, err
	}
	if report.Cancelled {
		logger.Warn("run cancelled, no digest sent", zap.Strings("skipped", report.Skipped))
		return sum, ErrCancelled
	}

	pending, err := a.store.RecordsNewSince(ctx, time.Time{})
	if err != nil {
		return sum, store.Wrap("count pending", err)
	}
	sum.Pending = len(pending)
	a.logSummary(logger, report, sum.Pending)

	if a.notifier == nil {
		logger.Info("email skipped (--skip-email)")
	} else {
		res, err := a.notifier.Notify(ctx, rc, a.clock.Now())
		if err != nil {
			return sum, err
		}
		sum.Digest = &res
	}

	a.publishRun(ctx, rc, sum)
	a.push(ctx, logger)
	return sum, nil
}

func (a *App) logSummary(logger *zap.Logger, report supervisor.Report, pending int) {
	failed := len(report.Runs) - report.Succeeded()
	logger.Info("run summary",
		zap.Int("sources_succeeded", report.Succeeded()),
		zap.Int("sources_failed", failed),
		zap.Int("records_found", report.Found()),
		zap.Int("records_new", len(report.Inserted)),
		zap.Int("pending_notification", pending))
	for _, run := range report.Runs {
		if run.Succeeded() {
			continue
		}
		logger.Warn("source failed",
			zap.String("source", run.Source),
			zap.String("outcome", string(run.Outcome)),
			zap.String("error", run.ErrorDetail))
	}
}

func (a *App) publishRun(ctx context.Context, rc tender.RunContext, sum Summary) {
	statuses := make([]tender.SourceStatus, 0, len(sum.Report.Runs))
	for _, run := range sum.Report.Runs {
		r := run
		statuses = append(statuses, tender.SourceStatus{Source: run.Source, Run: &r})
	}
	evt := events.Event{
		Type:    events.TypeRunCompleted,
		RunID:   rc.RunID,
		Purpose: rc.Purpose,
		TS:      a.clock.Now(),
		Sources: statuses,
		Found:   sum.Report.Found(),
		New:     len(sum.Report.Inserted),
	}
	if sum.Digest != nil && sum.Digest.Delivered() {
		evt.Delivered = sum.Digest.Notification.IncludedCount
	}
	if _, err := a.publisher.Publish(ctx, evt); err != nil {
		a.logger.Warn("publish run event failed", zap.Error(err))
	}
}

func (a *App) push(ctx context.Context, logger *zap.Logger) {
	url := strings.TrimSpace(a.cfg.Metrics.PushgatewayURL)
	if url == "" || a.opts.DryRun {
		return
	}
	// The hub batches asynchronously; flush it so the push sees this run.
	if err := a.hub.Close(ctx); err != nil {
		logger.Warn("flush progress events failed", zap.Error(err))
	}
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, a.registry}
	if err := metrics.Push(ctx, url, a.cfg.Metrics.Job, a.purpose.Name, gatherers); err != nil {
		logger.Warn("pushgateway push failed", zap.String("url", url), zap.Error(err))
		return
	}
	logger.Debug("metrics pushed", zap.String("url", url))
}

// Close releases every service. It is safe to call once after Run.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("close progress hub failed", zap.Error(err))
		}
	}
	for _, u := range a.units {
		if c, ok := u.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Warn("close unit failed", zap.String("source", u.Name()), zap.Error(err))
			}
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close service failed", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store failed", zap.Error(err))
		}
	}
}
