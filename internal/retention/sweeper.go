// Package retention removes expired run records and their capture logs on
// a cron schedule.
package retention

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"crucible/internal/storage"
)

// Sweeper deletes run history past its retention age, together with the
// sink files the runs point at.
type Sweeper struct {
	store    *storage.RunStore
	schedule string
	maxAge   time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. schedule is a standard 5-field cron
// expression; maxAge is how long finished runs are kept.
func NewSweeper(store *storage.RunStore, schedule string, maxAge time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		maxAge:   maxAge,
		logger:   logger,
	}, nil
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper already running")
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error().Err(err).Msg("retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("retention sweeper started")
	return nil
}

// Stop stops the scheduler, waiting for a sweep in flight.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("retention sweeper stopped")
}

// Sweep deletes runs that finished more than maxAge ago and removes their
// capture logs. Returns how many log files were removed.
func (s *Sweeper) Sweep() (int, error) {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	paths, err := s.store.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("path", path).Msg("remove capture log failed")
			}
			continue
		}
		removed++
	}

	s.logger.Info().
		Time("cutoff", cutoff).
		Int("runs", len(paths)).
		Int("logs_removed", removed).
		Msg("retention sweep complete")
	return removed, nil
}
