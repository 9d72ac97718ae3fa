package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AirQualityNews/internal/ports"
)

// Schedule describes when the cycle and the sweep fire.
type Schedule struct {
	CycleSpec  string
	SweepSpec  string
	Retention  time.Duration
	RunOnStart bool
}

// Scheduler wires the cron driver with the pipeline and the retention sweep.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	sweeper  *Sweeper
	schedule Schedule
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, sweeper *Sweeper, schedule Schedule, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		driver:   driver,
		pipeline: pipeline,
		sweeper:  sweeper,
		schedule: schedule,
		logger:   log.With("component", "jobs"),
	}
}

// Start registers both jobs, starts the driver and optionally fires a cycle right away.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	if s.pipeline != nil {
		if err := s.driver.Schedule(s.schedule.CycleSpec, "cycle", s.pipeline.Run); err != nil {
			return fmt.Errorf("schedule cycle: %w", err)
		}
	}
	if s.sweeper != nil {
		if err := s.driver.Schedule(s.schedule.SweepSpec, "sweep", s.sweep); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}

	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if s.schedule.RunOnStart && s.pipeline != nil {
		go s.pipeline.Run(ctx)
	}
	return nil
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx, s.schedule.Retention); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}
}
