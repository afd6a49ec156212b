package crawler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the value object consumed by the Orchestrator for one run.
type Config struct {
	Sources       []DataSource
	RequestDelay  time.Duration
	MaxPages      int
	MaxEmptyPages int
	PerPage       int
	Keywords      []string
	// StartDate and EndDate bound the search inclusively (YYYY-MM-DD).
	StartDate string
	EndDate   string
	// SourceConcurrency > 1 crawls sources in parallel.
	SourceConcurrency int
	// MaxRecords caps the merged record list; 0 means unlimited.
	MaxRecords      int
	DefaultLevel    string
	ListingCategory string
}

// EnabledSources returns the enabled sources in configured order.
func (c Config) EnabledSources() []DataSource {
	out := make([]DataSource, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	var errs []error
	if len(c.EnabledSources()) == 0 {
		errs = append(errs, errors.New("at least one enabled data source is required"))
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Name) == "" {
			errs = append(errs, fmt.Errorf("sources[%d].name is required", i))
		}
		if strings.TrimSpace(src.SearchURL) == "" {
			errs = append(errs, fmt.Errorf("sources[%d].search_url is required", i))
		}
	}
	if c.MaxPages <= 0 {
		errs = append(errs, errors.New("max pages must be > 0"))
	}
	if c.MaxEmptyPages <= 0 {
		errs = append(errs, errors.New("max empty pages must be > 0"))
	}
	if c.PerPage <= 0 {
		errs = append(errs, errors.New("per page must be > 0"))
	}
	if c.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay must be >= 0"))
	}
	for _, d := range []string{c.StartDate, c.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			errs = append(errs, fmt.Errorf("date %q must be YYYY-MM-DD", d))
		}
	}
	return errors.Join(errs...)
}

func (c Config) perPageFor(src DataSource) int {
	if src.PerPage > 0 {
		return src.PerPage
	}
	return c.PerPage
}
