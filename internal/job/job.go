// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job schedules the recurring tasks of waybar-humidity. Jobs never overlap with
// themselves: if a run is still in progress when the next one is due, the next run is rescheduled.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-humidity/internal/logger"
)

var ErrInvalidInterval = errors.New("job interval must be positive")

// Task is the function executed by a job. The context is cancelled when the scheduler shuts down.
type Task func(context.Context)

// Scheduler runs interval and daily jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *logger.Logger
}

// New returns a Scheduler driven by clock. A nil clock uses the system clock.
func New(log *logger.Logger, clock clockwork.Clock) (*Scheduler, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: scheduler, logger: log}, nil
}

// Every adds a job that runs task every interval.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("failed to create %s: %w", name, ErrInvalidInterval)
	}
	return s.add(ctx, name, gocron.DurationJob(interval), task)
}

// Daily adds a job that runs task once a day at the given wall clock time.
func (s *Scheduler) Daily(ctx context.Context, name string, hour, minute, second uint, task Task) error {
	if hour > 23 || minute > 59 || second > 59 {
		return fmt.Errorf("failed to create %s: invalid time of day %02d:%02d:%02d", name, hour, minute, second)
	}
	definition := gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, second)))
	return s.add(ctx, name, definition, task)
}

func (s *Scheduler) add(ctx context.Context, name string, definition gocron.JobDefinition, task Task) error {
	if task == nil {
		return fmt.Errorf("failed to create %s: task is required", name)
	}
	_, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(func(ctx context.Context) {
			task(ctx)
		}),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	s.logger.Debug("scheduled job", "name", name)
	return nil
}

// Names returns the names of all scheduled jobs.
func (s *Scheduler) Names() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Shutdown() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	return nil
}
