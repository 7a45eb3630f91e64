// Package system provides a real clock implementation.
package system

import "time"

// Clock implements domain.Clock using time.Now in the marketplace timezone.
type Clock struct {
	loc *time.Location
}

// New creates a new Clock pinned to Asia/Shanghai, the timezone every
// timestamp in records and snapshots uses.
func New() *Clock {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the marketplace timezone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location exposes the clock's timezone for cron scheduling.
func (c *Clock) Location() *time.Location {
	return c.loc
}
