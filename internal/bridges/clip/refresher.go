package clip

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Refresher periodically re-queries every device so the hub state heals
// after missed reports.
type Refresher struct {
	cron *cron.Cron
}

// NewRefresher schedules refresh on a cron spec (standard 5-field syntax or
// descriptors such as "@every 10m").
func NewRefresher(spec string, refresh func() error, logger Logger) (*Refresher, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := refresh(); err != nil {
			logger.Warn("state refresh failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid state refresh schedule %q: %w", spec, err)
	}

	return &Refresher{cron: c}, nil
}

// Start begins running the schedule in the background.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop stops the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
