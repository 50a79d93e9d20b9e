package session

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the store sweep on a cron schedule, independent of the
// dispatch path.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules store.Sweep with the given cron spec (e.g. "@hourly").
func NewSweeper(log *slog.Logger, store *Store, spec string) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, store.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", spec, err)
	}
	return &Sweeper{
		cron:   c,
		logger: log.With(slog.String("service", "sweeper")),
	}, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("session sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
