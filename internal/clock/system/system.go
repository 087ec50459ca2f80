// Package system provides the wall clock used outside tests.
package system

import (
	"fmt"
	"time"
	_ "time/tzdata" // digests are stamped in German local time even on minimal images
)

// DefaultZone is the zone digest timestamps are shown in.
const DefaultZone = "Europe/Berlin"

// Clock implements tender.Clock. Now is always UTC; Location is the zone
// people read digests in.
type Clock struct {
	loc *time.Location
}

// New returns a Clock displaying times in DefaultZone.
func New() *Clock {
	c, err := NewIn(DefaultZone)
	if err != nil {
		return &Clock{loc: time.Local}
	}
	return c
}

// NewIn returns a Clock displaying times in the named zone. Empty means
// DefaultZone.
func NewIn(zone string) (*Clock, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Location returns the display zone.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
