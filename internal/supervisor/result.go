package supervisor

import (
	"time"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

// State is the lifecycle state of one unit invocation.
type State string

// Unit states.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// UnitResult is what executing one unit yields. A Succeeded result may carry
// Err when the unit returned records alongside an error.
type UnitResult struct {
	Source      string
	State       State
	Records     []tender.RawRecord
	Err         error
	Prefiltered bool
	Duration    time.Duration
}

// Report aggregates a run.
type Report struct {
	RunID string
	// Runs holds one row per executed unit in completion order.
	Runs []tender.RunRecord
	// Inserted holds every record new to the store.
	Inserted []tender.Record
	// Skipped names units never started because the run was cancelled.
	Skipped   []string
	Cancelled bool
}

// Succeeded counts runs with a success or partial outcome.
func (r Report) Succeeded() int {
	n := 0
	for _, run := range r.Runs {
		if run.Succeeded() {
			n++
		}
	}
	return n
}

// Found sums records_found over all runs.
func (r Report) Found() int {
	n := 0
	for _, run := range r.Runs {
		n += run.RecordsFound
	}
	return n
}
