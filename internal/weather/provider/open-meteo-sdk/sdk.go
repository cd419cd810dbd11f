// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package openmeteosdk implements the weather.Provider on top of the hectormalot/omgo Open-Meteo
// client. The API is queried in UTC and timestamps are returned in the zone of the device.
package openmeteosdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hectormalot/omgo"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const (
	name         = "open-meteo-sdk"
	fetchTimeout = time.Second * 10

	metricTemperature = "temperature_2m"
	metricApparent    = "apparent_temperature"
	metricDewPoint    = "dew_point_2m"
	metricHumidity    = "relative_humidity_2m"
)

var ErrNoCurrentHour = errors.New("forecast does not contain the current hour")

// Forecaster is the part of the omgo client used by the provider.
type Forecaster interface {
	Forecast(ctx context.Context, loc omgo.Location, opts *omgo.Options) (*omgo.Forecast, error)
}

type OpenMeteoSDK struct {
	unit   string
	client Forecaster
	clock  clockwork.Clock
	zone   *time.Location
	log    *logger.Logger
}

// New returns a provider using a default omgo client.
func New(log *logger.Logger, unit string) (*OpenMeteoSDK, error) {
	client, err := omgo.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Open-Meteo client: %w", err)
	}
	return NewWithClient(client, clockwork.NewRealClock(), log, unit)
}

// NewWithClient returns a provider using the given forecaster and clock.
func NewWithClient(client Forecaster, clock clockwork.Clock, log *logger.Logger, unit string) (*OpenMeteoSDK, error) {
	if client == nil {
		return nil, fmt.Errorf("forecast client is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &OpenMeteoSDK{unit: unit, client: client, clock: clock, zone: time.Local, log: log}, nil
}

func (o *OpenMeteoSDK) Name() string {
	return name
}

// GetCurrent derives the current conditions from the forecast entry of the current hour.
func (o *OpenMeteoSDK) GetCurrent(ctx context.Context, coords weather.Coordinate) (weather.Current, error) {
	var current weather.Current
	forecast, err := o.forecast(ctx, coords, metricTemperature, metricApparent, metricDewPoint, metricHumidity)
	if err != nil {
		return current, err
	}

	now := o.clock.Now().UTC().Truncate(time.Hour)
	idx := -1
	for i, t := range forecast.HourlyTimes {
		if t.UTC().Equal(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return current, ErrNoCurrentHour
	}

	temperature, ok := metricAt(forecast, metricTemperature, idx)
	if !ok {
		return current, fmt.Errorf("forecast is missing %s", metricTemperature)
	}
	humidity, ok := metricAt(forecast, metricHumidity, idx)
	if !ok {
		return current, fmt.Errorf("forecast is missing %s", metricHumidity)
	}
	current.InstantTime = forecast.HourlyTimes[idx].In(o.zone)
	current.Temperature = temperature
	current.RelativeHumidityFraction = humidity / 100
	current.ApparentTemperature = temperature
	if apparent, ok := metricAt(forecast, metricApparent, idx); ok {
		current.ApparentTemperature = apparent
	}
	if dewPoint, ok := metricAt(forecast, metricDewPoint, idx); ok {
		current.DewPoint = dewPoint
	}
	current.TemperatureUnit = forecast.HourlyUnits[metricTemperature]
	if current.TemperatureUnit == "" {
		current.TemperatureUnit = o.unitSymbol()
	}

	return current, nil
}

// GetHourly returns the relative humidity forecast between start and end (both inclusive).
func (o *OpenMeteoSDK) GetHourly(ctx context.Context, coords weather.Coordinate, start, end time.Time) ([]weather.Hourly, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid forecast range: end %s is before start %s", end, start)
	}
	forecast, err := o.forecast(ctx, coords, metricHumidity)
	if err != nil {
		return nil, err
	}

	hourly := make([]weather.Hourly, 0, 25)
	for i, t := range forecast.HourlyTimes {
		if t.Before(start) || t.After(end) {
			continue
		}
		humidity, ok := metricAt(forecast, metricHumidity, i)
		if !ok {
			continue
		}
		hourly = append(hourly, weather.Hourly{
			InstantTime:              t.In(o.zone),
			RelativeHumidityFraction: humidity / 100,
		})
	}
	return hourly, nil
}

func (o *OpenMeteoSDK) forecast(ctx context.Context, coords weather.Coordinate, metrics ...string) (*omgo.Forecast, error) {
	if !coords.Valid() {
		return nil, weather.ErrInvalidCoordinate
	}
	location, err := omgo.NewLocation(coords.Lat, coords.Lon)
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}

	opts := &omgo.Options{
		PastDays:      1,
		Timezone:      "UTC",
		HourlyMetrics: metrics,
	}
	switch strings.ToLower(o.unit) {
	case "imperial":
		opts.TemperatureUnit = "fahrenheit"
	default:
		opts.TemperatureUnit = "celsius"
	}

	ctxFetch, cancelFetch := context.WithTimeout(ctx, fetchTimeout)
	defer cancelFetch()
	forecast, err := o.client.Forecast(ctxFetch, location, opts)
	if err != nil {
		if strings.Contains(err.Error(), "429") {
			o.log.Debug("Open-Meteo API rate limit exceeded", logger.Err(err))
			return nil, &weather.RateLimitError{Provider: name}
		}
		return nil, fmt.Errorf("failed to get forecast data: %w", err)
	}
	if forecast == nil {
		return nil, fmt.Errorf("empty forecast data received")
	}
	return forecast, nil
}

func (o *OpenMeteoSDK) unitSymbol() string {
	if strings.EqualFold(o.unit, "imperial") {
		return "°F"
	}
	return "°C"
}

func metricAt(forecast *omgo.Forecast, metric string, idx int) (float64, bool) {
	values, ok := forecast.HourlyMetrics[metric]
	if !ok || idx >= len(values) {
		return 0, false
	}
	return values[idx], true
}
