// Package system provides the wall clock used to stamp crawl times.
package system

import (
	"fmt"
	"time"
)

// Clock returns the current time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a UTC Clock.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewInZone creates a Clock reporting times in the named IANA zone. An empty
// name selects UTC.
func NewInZone(name string) (*Clock, error) {
	if name == "" {
		return New(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
