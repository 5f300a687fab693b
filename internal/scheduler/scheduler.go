// Package scheduler runs periodic background jobs: the pipeline sweep
// and database maintenance.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps gocron with context-aware task registration.
type Scheduler struct {
	s      gocron.Scheduler
	logger *slog.Logger
}

// New creates a stopped scheduler; call Start after registering jobs.
func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		s:      s,
		logger: logger.With("component", "scheduler"),
	}, nil
}

// AddInterval schedules task to run every interval.
func (sc *Scheduler) AddInterval(name string, interval time.Duration, timeout time.Duration, task func(ctx context.Context) error) error {
	_, err := sc.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sc.wrap(name, timeout, task)),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	sc.logger.Info("Job scheduled", "name", name, "interval", interval)
	return nil
}

// AddDaily schedules task to run once a day at the given "HH:MM" time.
func (sc *Scheduler) AddDaily(name, at string, timeout time.Duration, task func(ctx context.Context) error) error {
	hour, minute, err := parseClock(at)
	if err != nil {
		return fmt.Errorf("invalid time for job %q: %w", name, err)
	}

	_, err = sc.s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(sc.wrap(name, timeout, task)),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	sc.logger.Info("Job scheduled", "name", name, "at", at)
	return nil
}

// Start begins running registered jobs.
func (sc *Scheduler) Start() {
	sc.s.Start()
	sc.logger.Info("Scheduler started")
}

// Stop shuts the scheduler down, waiting for running jobs.
func (sc *Scheduler) Stop() error {
	if err := sc.s.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	sc.logger.Info("Scheduler stopped")
	return nil
}

func (sc *Scheduler) wrap(name string, timeout time.Duration, task func(ctx context.Context) error) func() {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			sc.logger.Error("Job failed", "name", name, "duration", time.Since(start), "error", err)
			return
		}
		sc.logger.Debug("Job completed", "name", name, "duration", time.Since(start))
	}
}

func parseClock(at string) (uint, uint, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", at)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", at)
	}

	return uint(hour), uint(minute), nil
}
