// Package supervisor executes fetch units with fault isolation, per-unit
// deadlines and randomized pacing, and persists their output.
//
// Each unit moves through Pending, Running and one of Succeeded, Failed or
// TimedOut. Only a store failure aborts a run; every other failure is
// recorded as a run row and the next unit starts.
package supervisor
