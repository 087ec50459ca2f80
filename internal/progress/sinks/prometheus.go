package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tender-watch/internal/progress"
)

// PrometheusSink exports run and unit metrics.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished prometheus.Counter
	runDuration  prometheus.Histogram

	unitsStarted *prometheus.CounterVec
	unitResults  *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	unitsRunning prometheus.Gauge

	recordsFound *prometheus.CounterVec
	recordsNew   *prometheus.CounterVec

	digests *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenderwatch_runs_started_total",
			Help: "Runs started.",
		}),
		runsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenderwatch_runs_finished_total",
			Help: "Runs that reached the end of the unit list or were cancelled.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenderwatch_run_duration_seconds",
			Help:    "Wall time per run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		unitsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenderwatch_units_started_total",
			Help: "Fetch units started per source.",
		}, []string{"source"}),
		unitResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenderwatch_unit_results_total",
			Help: "Fetch unit terminal states per source.",
		}, []string{"source", "state"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenderwatch_unit_duration_seconds",
			Help:    "Fetch unit wall time per source and state.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"source", "state"}),
		unitsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenderwatch_units_running",
			Help: "Fetch units currently running.",
		}),
		recordsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenderwatch_records_found_total",
			Help: "Raw records returned per source.",
		}, []string{"source"}),
		recordsNew: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenderwatch_records_new_total",
			Help: "Records inserted per source after deduplication.",
		}, []string{"source"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenderwatch_digests_total",
			Help: "Digest delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsFinished, s.runDuration,
		s.unitsStarted, s.unitResults, s.unitDuration, s.unitsRunning,
		s.recordsFound, s.recordsNew, s.digests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageRunDone:
			s.runsFinished.Inc()
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageUnitStart:
			s.unitsStarted.WithLabelValues(evt.Source).Inc()
			s.unitsRunning.Inc()
		case progress.StageUnitDone:
			s.unitsRunning.Dec()
			s.unitResults.WithLabelValues(evt.Source, evt.State).Inc()
			if evt.Dur > 0 {
				s.unitDuration.WithLabelValues(evt.Source, evt.State).Observe(evt.Dur.Seconds())
			}
			if evt.Found > 0 {
				s.recordsFound.WithLabelValues(evt.Source).Add(float64(evt.Found))
			}
			if evt.New > 0 {
				s.recordsNew.WithLabelValues(evt.Source).Add(float64(evt.New))
			}
		case progress.StageDigest:
			s.digests.WithLabelValues(evt.State).Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
