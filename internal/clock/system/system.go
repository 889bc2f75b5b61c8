// Package system provides the wall clock used to stamp price summaries.
package system

import "time"

// Clock implements pricing.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, so ScrapedAt values compare across hosts.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
