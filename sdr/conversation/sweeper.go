package conversation

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper evicts expired conversations on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	logger zerolog.Logger
}

// NewSweeper registers the sweep job; schedule accepts standard cron specs
// and descriptors such as "@every 5m".
func NewSweeper(store *Store, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if n := s.store.SweepExpired(); n > 0 {
		s.logger.Debug().Int("evicted", n).Msg("expired conversations swept")
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the scheduler and returns a context that is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context { return s.cron.Stop() }
