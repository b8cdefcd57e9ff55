package dedup

import (
	"context"
	"fmt"
	"log/slog"

	robfigcron "github.com/robfig/cron/v3"
)

// Sweeper runs Cache.Sweep on a cron schedule ("@every 1m", "*/30 * * * * *").
type Sweeper struct {
	cache    *Cache
	schedule string
	logger   *slog.Logger
	onSweep  func(size int)
	cron     *robfigcron.Cron
}

// NewSweeper validates schedule and returns a stopped sweeper. onSweep, if
// non-nil, receives the cache size after every sweep.
func NewSweeper(cache *Cache, schedule string, logger *slog.Logger, onSweep func(size int)) (*Sweeper, error) {
	s := &Sweeper{
		cache:    cache,
		schedule: schedule,
		logger:   logger,
		onSweep:  onSweep,
		cron:     robfigcron.New(robfigcron.WithSeconds()),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Debug("dedup sweeper started", "schedule", s.schedule)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Sweeper) sweep() {
	removed := s.cache.Sweep()
	size := s.cache.Len()
	if removed > 0 {
		s.logger.Debug("dedup sweep", "removed", removed, "remaining", size)
	}
	if s.onSweep != nil {
		s.onSweep(size)
	}
}
