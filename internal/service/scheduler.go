package service

import (
	"context"
	"sync"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/metrics"

	"github.com/sirupsen/logrus"
)

// MarkerStore persists the time of the last completed run
type MarkerStore interface {
	LastRun(ctx context.Context, name string) (time.Time, error)
	SetLastRun(ctx context.Context, name string, t time.Time) error
}

// Scheduler wakes every wakeEvery but only runs its callback when at least
// interval has passed since the persisted last run.
type Scheduler struct {
	name      string
	interval  time.Duration
	wakeEvery time.Duration
	gate      MarkerStore
	callback  func(ctx context.Context) error
	clock     func() time.Time
	logger    *logrus.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(interval, wakeEvery time.Duration, gate MarkerStore, callback func(ctx context.Context) error, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultRefreshIntervalHours) * time.Hour
	}
	if wakeEvery <= 0 {
		wakeEvery = time.Duration(constants.DefaultRefreshWakeMinutes) * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		name:      constants.LastRefreshRunMarker,
		interval:  interval,
		wakeEvery: wakeEvery,
		gate:      gate,
		callback:  callback,
		clock:     time.Now,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// SetClock replaces the time source
func (s *Scheduler) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Scheduler) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

// Start blocks, ticking immediately and then every wakeEvery, until ctx is
// done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.wakeEvery)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":   s.interval.String(),
		"wake_every": s.wakeEvery.String(),
	}).Info("Starting refresh scheduler")

	s.tickAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

// Stop ends Start. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled refresh failed")
	}
}

// Tick runs the callback when the gate allows it and then records the run.
// It reports whether the callback ran.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	now := s.now()

	lastRun, err := s.gate.LastRun(ctx, s.name)
	if err != nil {
		return false, err
	}
	if !lastRun.IsZero() && now.Sub(lastRun) < s.interval {
		s.logger.WithFields(logrus.Fields{
			"last_run": lastRun.Format(time.RFC3339),
			"next_run": lastRun.Add(s.interval).Format(time.RFC3339),
		}).Debug("Skipping scheduled refresh: interval not elapsed")
		return false, nil
	}

	if err := s.callback(ctx); err != nil {
		metrics.IncrementCounter("scheduler_runs_total", map[string]string{"result": "error"}, "Scheduled refresh runs")
		return true, err
	}
	metrics.IncrementCounter("scheduler_runs_total", map[string]string{"result": "ok"}, "Scheduled refresh runs")

	if err := s.gate.SetLastRun(ctx, s.name, now); err != nil {
		return true, err
	}
	return true, nil
}
