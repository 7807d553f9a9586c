// Package system provides the wall clock used by the job registry and the
// bulk orchestrator.
package system

import (
	"time"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

var _ poi.Clock = Clock{}

// Clock implements poi.Clock using time.Now.
type Clock struct {
	loc *time.Location
}

// New creates a UTC clock.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a clock reporting times in loc. Search dates are derived from
// the local midnight of this location.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
