// Package sweep runs the periodic maintenance jobs on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Tasks is what the scheduler drives. The tracker implements it.
type Tasks interface {
	SweepMissed(ctx context.Context) (int, error)
	ExtendWindow(ctx context.Context) (int, error)
}

type Config struct {
	// Missed runs the missed-dose sweep.
	Missed string
	// Window tops up the look-ahead window.
	Window   string
	Location *time.Location
	// Timeout bounds one run.
	Timeout time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	tasks   Tasks
	log     zerolog.Logger
	timeout time.Duration
}

func New(tasks Tasks, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tasks:   tasks,
		log:     log.With().Str("component", "sweep").Logger(),
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(cfg.Missed, s.MissedDoses); err != nil {
		return nil, fmt.Errorf("register missed-dose sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.Window, s.TopUpWindow); err != nil {
		return nil, fmt.Errorf("register window top-up: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) MissedDoses() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.tasks.SweepMissed(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("missed", n).Msg("missed-dose sweep failed")
		return
	}
	s.log.Debug().Int("missed", n).Msg("missed-dose sweep done")
}

func (s *Scheduler) TopUpWindow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.tasks.ExtendWindow(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("window top-up failed")
		return
	}
	s.log.Info().Int("schedules", n).Msg("window topped up")
}
