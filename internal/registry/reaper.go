package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultReapSchedule runs the reaper every ten minutes.
const DefaultReapSchedule = "@every 10m"

// Reaper periodically prunes finished jobs from a Registry.
type Reaper struct {
	registry *Registry
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewReaper schedules Reap on the given cron spec (standard five-field or
// descriptor such as "@every 10m").
func NewReaper(reg *Registry, schedule string, logger *zap.Logger) (*Reaper, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	rp := &Reaper{registry: reg, cron: c, logger: logger}
	if _, err := c.AddFunc(schedule, rp.run); err != nil {
		return nil, fmt.Errorf("schedule reaper %q: %w", schedule, err)
	}
	return rp, nil
}

// Start begins running the schedule in the background.
func (rp *Reaper) Start() {
	rp.logger.Info("job reaper started")
	rp.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (rp *Reaper) Stop(ctx context.Context) error {
	done := rp.cron.Stop()
	select {
	case <-done.Done():
		rp.logger.Info("job reaper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reaper stop: %w", ctx.Err())
	}
}

func (rp *Reaper) run() {
	removed := rp.registry.Reap(rp.registry.clock.Now())
	rp.logger.Debug("reaper sweep finished", zap.Int("removed", removed))
}
