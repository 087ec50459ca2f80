package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/tender-watch/internal/progress"
	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultUnitTimeout    = 300 * time.Second
	DefaultTerminateGrace = 5 * time.Second
)

// Config controls unit execution.
type Config struct {
	UnitTimeout time.Duration
	// PacingMin and PacingMax bound the random pause between units. Both
	// zero means no pause.
	PacingMin time.Duration
	PacingMax time.Duration
	// Concurrency bounds how many units run at once. 1 is strictly sequential.
	Concurrency int
	// TerminateGrace is how long a unit may take to return after its context
	// is done and Terminate was called before it is abandoned.
	TerminateGrace time.Duration
	// SkipPacing disables the pause between units.
	SkipPacing bool
}

// Filter tags and filters unit output. *keyword.Matcher implements it.
type Filter interface {
	Filter(records []tender.Record, prefiltered bool) []tender.Record
	SearchTerms() []string
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock overrides the time source.
func WithClock(c tender.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithEmitter attaches a progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Supervisor) { s.emitter = e }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func withPauser(p pauser) Option {
	return func(s *Supervisor) { s.pauser = p }
}

// Supervisor runs units against a store.
type Supervisor struct {
	cfg     Config
	store   store.Store
	filter  Filter
	clock   tender.Clock
	pauser  pauser
	emitter progress.Emitter
	tracer  trace.Tracer
	logger  *zap.Logger

	// mu serializes store writes so run rows land in completion order.
	mu sync.Mutex
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Supervisor.
func New(cfg Config, st store.Store, filter Filter, opts ...Option) (*Supervisor, error) {
	if st == nil {
		return nil, errors.New("supervisor: store is required")
	}
	if filter == nil {
		return nil, errors.New("supervisor: filter is required")
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = DefaultUnitTimeout
	}
	if cfg.PacingMin < 0 {
		return nil, fmt.Errorf("supervisor: pacing min %s < 0", cfg.PacingMin)
	}
	if cfg.PacingMax < cfg.PacingMin {
		return nil, fmt.Errorf("supervisor: pacing max %s < min %s", cfg.PacingMax, cfg.PacingMin)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = DefaultTerminateGrace
	}
	s := &Supervisor{
		cfg:     cfg,
		store:   st,
		filter:  filter,
		clock:   utcClock{},
		pauser:  timerPauser{},
		emitter: progress.Nop{},
		tracer:  otel.Tracer("github.com/JakeFAU/tender-watch/internal/supervisor"),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes units in order. It returns a non-nil error only when the
// store failed; the report then holds what was written before the failure.
// A cancelled ctx stops launching units, cancels running ones and still
// records their outcome.
func (s *Supervisor) Run(ctx context.Context, rc tender.RunContext, units []tender.Unit) (Report, error) {
	report := Report{RunID: rc.RunID}
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "supervisor.run", trace.WithAttributes(
		attribute.String("run_id", rc.RunID),
		attribute.String("purpose", rc.Purpose),
		attribute.Int("units", len(units)),
	))
	defer span.End()

	s.emit(progress.Event{RunID: rc.RunID, Purpose: rc.Purpose, Stage: progress.StageRunStart})
	s.logger.Info("run started",
		zap.String("run_id", rc.RunID),
		zap.Int("units", len(units)),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Bool("dry_run", rc.DryRun))

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	// abort stops launches before the failed unit's slot is released.
	gctx, abort := context.WithCancel(gctx)
	defer abort()
	skipPacing := s.cfg.SkipPacing || rc.DryRun || s.cfg.PacingMax == 0

	for i, u := range units {
		if err := sem.Acquire(gctx, 1); err != nil {
			report.Skipped = appendNames(report.Skipped, units[i:])
			break
		}
		if i > 0 && !skipPacing {
			delay := uniformDelay(s.cfg.PacingMin, s.cfg.PacingMax)
			s.logger.Debug("pacing before next unit", zap.String("source", u.Name()), zap.Duration("delay", delay))
			s.pauser.Pause(gctx, delay)
		}
		if gctx.Err() != nil {
			sem.Release(1)
			report.Skipped = appendNames(report.Skipped, units[i:])
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			err := s.runUnit(gctx, rc, u, &report)
			if err != nil {
				abort()
			}
			return err
		})
	}
	err := g.Wait()

	report.Cancelled = ctx.Err() != nil
	dur := s.clock.Now().Sub(started)
	s.emit(progress.Event{RunID: rc.RunID, Purpose: rc.Purpose, Stage: progress.StageRunDone, New: len(report.Inserted), Dur: dur})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		s.logger.Error("run aborted", zap.String("run_id", rc.RunID), zap.Error(err))
		return report, err
	}
	if len(report.Skipped) > 0 {
		s.logger.Warn("run cancelled, units skipped",
			zap.String("run_id", rc.RunID), zap.Strings("skipped", report.Skipped))
	}
	s.logger.Info("run finished",
		zap.String("run_id", rc.RunID),
		zap.Int("units_succeeded", report.Succeeded()),
		zap.Int("units_failed", len(report.Runs)-report.Succeeded()),
		zap.Int("records_found", report.Found()),
		zap.Int("records_new", len(report.Inserted)),
		zap.Duration("dur", dur))
	return report, nil
}

func appendNames(dst []string, units []tender.Unit) []string {
	for _, u := range units {
		dst = append(dst, u.Name())
	}
	return dst
}

func (s *Supervisor) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}

// runUnit executes one unit and persists its outcome. The returned error is
// always a store failure.
func (s *Supervisor) runUnit(ctx context.Context, rc tender.RunContext, u tender.Unit, report *Report) error {
	name := u.Name()
	ctx, span := s.tracer.Start(ctx, "supervisor.unit", trace.WithAttributes(attribute.String("source", name)))
	defer span.End()

	// Outcomes are written even when the run is being cancelled.
	storeCtx := context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("run_id", rc.RunID), zap.String("source", name))

	start := s.clock.Now()
	s.mu.Lock()
	run, err := s.store.OpenRun(storeCtx, rc.RunID, name, start)
	s.mu.Unlock()
	if err != nil {
		return store.Wrap("open run", err)
	}
	s.emit(progress.Event{RunID: rc.RunID, Purpose: rc.Purpose, Stage: progress.StageUnitStart, Source: name})
	logger.Info("unit started")

	res := s.execute(ctx, rc, u)
	end := s.clock.Now()
	run.EndTime = &end
	run.RecordsFound = len(res.Records)

	if !res.State.Terminal() {
		return fmt.Errorf("unit %s returned non-terminal state %s", name, res.State)
	}
	var inserted []tender.Record
	switch res.State {
	case StateSucceeded:
		records := make([]tender.Record, 0, len(res.Records))
		for _, raw := range res.Records {
			rec := tender.NewRecord(name, raw, end)
			if rec.Title == "" {
				continue
			}
			records = append(records, rec)
		}
		matched := s.filter.Filter(records, res.Prefiltered)
		run.Outcome = tender.OutcomeSuccess
		if res.Err != nil {
			run.Outcome = tender.OutcomePartial
			run.ErrorDetail = res.Err.Error()
		}
		var storeErr error
		inserted, storeErr = s.persist(storeCtx, &run, matched, report)
		if storeErr != nil {
			span.RecordError(storeErr)
			span.SetStatus(codes.Error, "store failure")
			return storeErr
		}
		logger.Info("unit succeeded",
			zap.String("outcome", string(run.Outcome)),
			zap.Int("found", run.RecordsFound),
			zap.Int("matched", len(matched)),
			zap.Int("new", run.RecordsNew),
			zap.Duration("dur", res.Duration))
		if res.Err != nil {
			logger.Warn("unit returned partial results", zap.Error(res.Err))
		}
	case StateFailed, StateTimedOut:
		run.Outcome = tender.OutcomeFailure
		run.RecordsFound = 0
		if res.Err != nil {
			run.ErrorDetail = res.Err.Error()
		}
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.State))
		logger.Error("unit failed", zap.String("state", string(res.State)), zap.Error(res.Err), zap.Duration("dur", res.Duration))
		if _, err := s.persist(storeCtx, &run, nil, report); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.String("state", string(res.State)), attribute.Int("records_new", len(inserted)))
	s.emit(progress.Event{
		RunID:   rc.RunID,
		Purpose: rc.Purpose,
		Stage:   progress.StageUnitDone,
		Source:  name,
		State:   string(res.State),
		Found:   run.RecordsFound,
		New:     run.RecordsNew,
		Dur:     res.Duration,
		Note:    run.ErrorDetail,
	})
	return nil
}

// persist inserts records and closes the run row under the write lock. The
// inserts complete before the run row is finalized.
func (s *Supervisor) persist(
	ctx context.Context,
	run *tender.RunRecord,
	records []tender.Record,
	report *Report,
) ([]tender.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []tender.Record
	if len(records) > 0 {
		n, rows, err := s.store.Upsert(ctx, records)
		if err != nil {
			run.Outcome = tender.OutcomeFailure
			run.ErrorDetail = err.Error()
			if closed, logErr := s.store.LogRun(ctx, *run); logErr == nil {
				report.Runs = append(report.Runs, closed)
			}
			return nil, store.Wrap("upsert", err)
		}
		run.RecordsNew = n
		inserted = rows
	}
	closed, err := s.store.LogRun(ctx, *run)
	if err != nil {
		return nil, store.Wrap("log run", err)
	}
	*run = closed
	report.Runs = append(report.Runs, closed)
	report.Inserted = append(report.Inserted, inserted...)
	return inserted, nil
}

// execute runs the unit under its deadline. On timeout or cancellation the
// unit is asked to terminate and given TerminateGrace to return; after that
// its goroutine is abandoned and any late output is dropped.
func (s *Supervisor) execute(ctx context.Context, rc tender.RunContext, u tender.Unit) UnitResult {
	name := u.Name()
	res := UnitResult{Source: name, State: StateRunning}
	start := time.Now()

	unitCtx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	defer cancel()

	type output struct {
		records []tender.RawRecord
		err     error
	}
	done := make(chan output, 1)

	searcher, prefiltered := u.(tender.Searcher)
	res.Prefiltered = prefiltered
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- output{err: fmt.Errorf("unit panicked: %v", r)}
			}
		}()
		var out output
		if prefiltered {
			out.records, out.err = searcher.Search(unitCtx, rc, s.filter.SearchTerms())
		} else {
			out.records, out.err = u.Fetch(unitCtx, rc)
		}
		done <- out
	}()

	var (
		out       output
		returned  bool
		abandoned bool
	)
	select {
	case out = <-done:
		returned = true
	case <-unitCtx.Done():
	}

	if !returned {
		if t, ok := u.(tender.Terminator); ok {
			s.logger.Warn("terminating unit", zap.String("source", name))
			t.Terminate()
		}
		grace := time.NewTimer(s.cfg.TerminateGrace)
		select {
		case out = <-done:
		case <-grace.C:
			abandoned = true
		}
		grace.Stop()
	}
	res.Duration = time.Since(start)

	switch {
	case !returned && ctx.Err() != nil:
		res.State = StateFailed
		res.Err = &tender.FetchError{Source: name, Err: fmt.Errorf("run cancelled: %w", ctx.Err())}
	case !returned || (ctx.Err() == nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) && out.err != nil):
		res.State = StateTimedOut
		res.Err = &tender.TimeoutError{Source: name, Timeout: s.cfg.UnitTimeout, Abandoned: abandoned}
	case out.err == nil:
		res.State = StateSucceeded
		res.Records = out.records
	case len(out.records) > 0 && ctx.Err() == nil:
		res.State = StateSucceeded
		res.Records = out.records
		res.Err = out.err
	default:
		res.State = StateFailed
		res.Err = &tender.FetchError{Source: name, Err: out.err}
	}
	return res
}
