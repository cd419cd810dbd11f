// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service runs the waybar widget surfaces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/job"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/presenter"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

const (
	refreshJobName   = "humidity_refresh_job"
	dayChangeJobName = "day_change_job"
	outputJobName    = "output_job"
)

// Refresher is the part of the refresh engine used by a widget.
type Refresher interface {
	Refresh(ctx context.Context, trigger refresh.Trigger) (*store.Snapshot, error)
	CurrentSnapshot(ctx context.Context) (*store.Snapshot, error)
	SavedLocation(ctx context.Context) (*store.Location, error)
	Unit(ctx context.Context) (humidity.Unit, error)
	HomeHours(ctx context.Context) (ventilation.HomeHours, error)
}

// Service drives a single waybar module. It refreshes on its schedule and on signals and prints
// the module output as JSON, reading everything from the shared Store.
type Service struct {
	config    *config.Config
	engine    Refresher
	presenter *presenter.Presenter
	logger    *logger.Logger
	scheduler *job.Scheduler
	clock     clockwork.Clock
	widget    presenter.Widget
	SignalSrc signalSource

	resumeMonitor func(context.Context)

	outputLock sync.Mutex
	output     io.Writer

	displayAltLock sync.RWMutex
	displayAltText bool
}

func New(conf *config.Config, engine Refresher, pres *presenter.Presenter, widget presenter.Widget,
	log *logger.Logger,
) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if engine == nil {
		return nil, errors.New("refresh engine is required")
	}
	if pres == nil {
		return nil, errors.New("presenter is required")
	}
	clock := clockwork.NewRealClock()
	scheduler, err := job.New(log, clock)
	if err != nil {
		return nil, err
	}

	serv := &Service{
		config:    conf,
		engine:    engine,
		presenter: pres,
		logger:    log.With(slog.String("widget", string(widget))),
		scheduler: scheduler,
		clock:     clock,
		widget:    widget,
		SignalSrc: stdLibSignalSource{},
		output:    os.Stdout,
	}
	serv.resumeMonitor = serv.monitorSleepResume
	return serv, nil
}

// Run refreshes the saved location, prints the module once and then serves the schedule, the
// signals and the resume events until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.scheduler.Every(ctx, refreshJobName, s.config.Intervals.AutoRefresh,
		s.refreshTask(refresh.TriggerAutomatic)); err != nil {
		return err
	}
	if err := s.scheduler.Daily(ctx, dayChangeJobName, 0, 0, 5,
		s.refreshTask(refresh.TriggerDayChange)); err != nil {
		return err
	}
	if err := s.scheduler.Every(ctx, outputJobName, s.config.Intervals.Output, s.printOutput); err != nil {
		return err
	}
	s.scheduler.Start()

	s.refresh(ctx, refresh.TriggerAutomatic)
	s.printOutput(ctx)

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.HandleSignals(ctx, sigChan)
	go s.resumeMonitor(ctx)

	<-ctx.Done()
	s.SignalSrc.Stop(sigChan)
	return s.scheduler.Shutdown()
}

func (s *Service) refreshTask(trigger refresh.Trigger) job.Task {
	return func(ctx context.Context) {
		s.refresh(ctx, trigger)
		s.printOutput(ctx)
	}
}

// refresh runs a refresh and logs its outcome. Expected rejections are logged at debug level.
func (s *Service) refresh(ctx context.Context, trigger refresh.Trigger) {
	snap, err := s.engine.Refresh(ctx, trigger)
	switch {
	case err == nil:
		s.logger.Debug("refresh completed", slog.String("trigger", trigger.String()),
			slog.String("snapshot", snap.ID.String()))
	case refresh.IsNotice(err), errors.Is(err, refresh.ErrNoLocation):
		s.logger.Debug("refresh skipped", slog.String("trigger", trigger.String()), logger.Err(err))
	default:
		s.logger.Error("refresh failed", slog.String("trigger", trigger.String()), logger.Err(err))
	}
}

// printOutput renders the module from the Store and writes it as a single JSON line.
func (s *Service) printOutput(ctx context.Context) {
	out, err := s.render(ctx)
	if err != nil {
		s.logger.Error("failed to render output", logger.Err(err))
		return
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(out); err != nil {
		s.logger.Error("failed to encode output", logger.Err(err))
	}
}

func (s *Service) render(ctx context.Context) (presenter.Output, error) {
	loc, err := s.engine.SavedLocation(ctx)
	if err != nil {
		return presenter.Output{}, fmt.Errorf("failed to read location: %w", err)
	}
	snap, err := s.engine.CurrentSnapshot(ctx)
	if err != nil {
		return presenter.Output{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	unit, err := s.engine.Unit(ctx)
	if err != nil {
		return presenter.Output{}, fmt.Errorf("failed to read unit: %w", err)
	}
	home, err := s.engine.HomeHours(ctx)
	if err != nil {
		return presenter.Output{}, fmt.Errorf("failed to read home hours: %w", err)
	}

	s.displayAltLock.RLock()
	alt := s.displayAltText
	s.displayAltLock.RUnlock()

	tplCtx := s.presenter.BuildContext(loc, snap, unit, home, s.clock.Now())
	return s.presenter.Render(s.widget, tplCtx, alt)
}
