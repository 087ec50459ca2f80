package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageUnitStart Stage = "UNIT_START"
	StageUnitDone  Stage = "UNIT_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageDigest    Stage = "DIGEST"
)

// Event is a single lifecycle milestone of a run.
type Event struct {
	RunID   string
	Purpose string
	TS      time.Time
	Stage   Stage
	// Source is set for unit events.
	Source string
	// State is the terminal unit state for UNIT_DONE and the delivery outcome
	// for DIGEST.
	State string
	Found int
	New   int
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageUnitStart:
		if e.Source == "" {
			return errors.New("unit start requires source")
		}
	case StageUnitDone:
		if e.Source == "" {
			return errors.New("unit done requires source")
		}
		if e.State == "" {
			return errors.New("unit done requires state")
		}
	case StageDigest:
		if e.State == "" {
			return errors.New("digest requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
