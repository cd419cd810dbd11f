// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/http"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/search"
	geocodeearth "github.com/wneessen/waybar-humidity/internal/search/provider/geocode-earth"
	"github.com/wneessen/waybar-humidity/internal/search/provider/opencage"
	nominatim "github.com/wneessen/waybar-humidity/internal/search/provider/osm-nominatim"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/weather"
	openmeteo "github.com/wneessen/waybar-humidity/internal/weather/provider/open-meteo"
	openmeteosdk "github.com/wneessen/waybar-humidity/internal/weather/provider/open-meteo-sdk"
)

// NewWeatherProvider returns the weather provider selected in the configuration.
func NewWeatherProvider(conf *config.Config, log *logger.Logger) (provider weather.Provider, err error) {
	switch strings.ToLower(conf.Weather.Provider) {
	case "open-meteo":
		provider, err = openmeteo.New(http.New(log), log, conf.Units)
		if err != nil {
			return nil, fmt.Errorf("failed to create Open-Meteo weather provider: %w", err)
		}
	case "open-meteo-sdk":
		provider, err = openmeteosdk.New(log, conf.Units)
		if err != nil {
			return nil, fmt.Errorf("failed to create Open-Meteo SDK weather provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported weather provider: %s", conf.Weather.Provider)
	}
	return provider, nil
}

// NewSearchProvider returns the cached place search provider selected in the configuration.
func NewSearchProvider(conf *config.Config, log *logger.Logger, lang language.Tag) (search.Provider, error) {
	var provider search.Provider
	switch strings.ToLower(conf.Search.Provider) {
	case "osm-nominatim", "nominatim":
		provider = nominatim.New(http.New(log), lang)
	case "geocode-earth":
		if conf.Search.APIKey == "" {
			return nil, fmt.Errorf("geocode-earth search requires an API key")
		}
		provider = geocodeearth.New(http.New(log), lang, conf.Search.APIKey)
	case "opencage":
		if conf.Search.APIKey == "" {
			return nil, fmt.Errorf("opencage search requires an API key")
		}
		provider = opencage.New(http.New(log), lang, conf.Search.APIKey)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", conf.Search.Provider)
	}
	return search.NewCachedProvider(provider, conf.Search.CacheTTL, nil), nil
}

// OpenStore opens the configured Store.
func OpenStore(ctx context.Context, conf *config.Config, log *logger.Logger) (*store.Store, error) {
	home := conf.DefaultHomeHours()
	st, err := store.Open(ctx, store.Options{
		Backend:          conf.Store.Backend,
		Path:             conf.Store.Path,
		DSN:              conf.Store.DSN,
		DefaultHomeHours: &home,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// NewEngine creates the refresh engine on top of st. A nil notifier disables update
// notifications.
func NewEngine(conf *config.Config, st *store.Store, log *logger.Logger, notifier refresh.Notifier) (*refresh.Engine, error) {
	provider, err := NewWeatherProvider(conf, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create weather provider: %w", err)
	}
	opts := []refresh.Option{
		refresh.WithCooldown(conf.Intervals.Cooldown),
		refresh.WithHorizon(conf.Weather.Horizon),
		refresh.WithTimeout(conf.Weather.Timeout),
	}
	if notifier != nil {
		opts = append(opts, refresh.WithNotifier(notifier))
	}
	orchestrator, err := refresh.NewOrchestrator(provider, st, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh orchestrator: %w", err)
	}
	return refresh.NewEngine(orchestrator, st, log), nil
}
