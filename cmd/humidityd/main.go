// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package main implements humidityd, which serves the main view of waybar-humidity over HTTP,
// keeps the shared Store fresh and optionally forwards snapshots to an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vorlif/spreak"
	"golang.org/x/sync/errgroup"

	"github.com/wneessen/waybar-humidity/internal/api"
	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/i18n"
	"github.com/wneessen/waybar-humidity/internal/job"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/mqtt"
	"github.com/wneessen/waybar-humidity/internal/presenter"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/service"
	"github.com/wneessen/waybar-humidity/internal/statebus"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/viewmodel"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	log := logger.New(slog.LevelError)
	confPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		return 1
	}
	log = logger.New(conf.LogLevel)
	t, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		return 1
	}

	st, err := service.OpenStore(ctx, conf, log)
	if err != nil {
		log.Error("failed to open store", logger.Err(err))
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", logger.Err(err))
		}
	}()

	log.Info(t.Get("starting humidityd"), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date), slog.String("listen", conf.API.Listen))
	if err = serve(ctx, conf, st, log, t); err != nil {
		log.Error(t.Get("failed to start humidityd"), logger.Err(err))
		return 1
	}
	log.Info(t.Get("shutting down humidityd"))
	return 0
}

func serve(ctx context.Context, conf *config.Config, st *store.Store, log *logger.Logger, t *spreak.Localizer) error {
	bus := statebus.New(log)
	engine, err := service.NewEngine(conf, st, log, bus)
	if err != nil {
		return err
	}
	pres, err := presenter.New(conf, t)
	if err != nil {
		return fmt.Errorf("failed to initialize presenter: %w", err)
	}
	places, err := service.NewSearchProvider(conf, log, t.Language())
	if err != nil {
		return fmt.Errorf("failed to create search provider: %w", err)
	}
	model := viewmodel.New(engine, places, pres, log, nil)

	scheduler, err := job.New(log, nil)
	if err != nil {
		return err
	}
	if err = scheduleRefreshes(ctx, scheduler, conf, engine, log); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Error("failed to shut down scheduler", logger.Err(err))
		}
	}()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		bus.Watch(ctx, st, conf.Intervals.Output)
		return nil
	})
	group.Go(func() error {
		if err := model.Start(ctx); err != nil {
			return fmt.Errorf("failed to start main view: %w", err)
		}
		model.Follow(ctx, bus)
		return nil
	})
	if conf.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(conf.MQTT.Broker, conf.MQTT.Topic, conf.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error("failed to close MQTT publisher", logger.Err(err))
			}
		}()
		group.Go(func() error {
			mqtt.Forward(ctx, bus, pub, log)
			return nil
		})
	}
	group.Go(func() error {
		return api.New(model, pres, log, conf.API.AllowedOrigins).ListenAndServe(ctx, conf.API.Listen)
	})

	if err = group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// scheduleRefreshes adds the automatic and the day change refresh. The engine runs them one at a
// time with the intents of the main view and checks the cooldown again when persisting, so a
// refresh completed by another surface in the meantime is not repeated.
func scheduleRefreshes(ctx context.Context, scheduler *job.Scheduler, conf *config.Config,
	engine *refresh.Engine, log *logger.Logger,
) error {
	task := func(trigger refresh.Trigger) job.Task {
		return func(ctx context.Context) {
			if _, err := engine.Refresh(ctx, trigger); err != nil {
				if refresh.IsNotice(err) || errors.Is(err, refresh.ErrNoLocation) {
					log.Debug("refresh skipped", slog.String("trigger", trigger.String()), logger.Err(err))
					return
				}
				log.Error("refresh failed", slog.String("trigger", trigger.String()), logger.Err(err))
			}
		}
	}
	if err := scheduler.Every(ctx, "humidity_refresh_job", conf.Intervals.AutoRefresh,
		task(refresh.TriggerAutomatic)); err != nil {
		return err
	}
	return scheduler.Daily(ctx, "day_change_job", 0, 0, 5, task(refresh.TriggerDayChange))
}
