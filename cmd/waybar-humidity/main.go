// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the waybar-humidity widget.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/i18n"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/presenter"
	"github.com/wneessen/waybar-humidity/internal/service"
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
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	log := logger.New(slog.LevelError)

	confPath := flag.String("config", "", "path to the config file")
	widgetName := flag.String("widget", string(presenter.WidgetCurrent), "widget to render: current or ventilation")
	flag.Parse()

	widget, err := presenter.ParseWidget(*widgetName)
	if err != nil {
		log.Error("invalid widget", logger.Err(err))
		return 1
	}
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

	engine, err := service.NewEngine(conf, st, log, nil)
	if err != nil {
		log.Error("failed to initialize refresh engine", logger.Err(err))
		return 1
	}
	pres, err := presenter.New(conf, t)
	if err != nil {
		log.Error("failed to initialize presenter", logger.Err(err))
		return 1
	}
	serv, err := service.New(conf, engine, pres, widget, log)
	if err != nil {
		log.Error("failed to initialize waybar-humidity service", logger.Err(err))
		return 1
	}

	log.Info(t.Get("starting waybar-humidity service"), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date), slog.String("widget", string(widget)))
	if err = serv.Run(ctx); err != nil {
		log.Error(t.Get("failed to start waybar-humidity service"), logger.Err(err))
		return 1
	}
	log.Info(t.Get("shutting down waybar-humidity service"))
	return 0
}
