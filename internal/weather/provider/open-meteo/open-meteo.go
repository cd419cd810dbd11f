// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/waybar-humidity/internal/http"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const (
	name        = "open-meteo"
	apiEndpoint = "https://api.open-meteo.com/v1/forecast"
	apiTimeout  = time.Second * 10
	timeLayout  = "2006-01-02T15:04"
)

var (
	currentFields = []string{"temperature_2m", "apparent_temperature", "dew_point_2m", "relative_humidity_2m"}
	hourlyFields  = []string{"relative_humidity_2m"}
)

type OpenMeteo struct {
	unit     string
	endpoint string
	log      *logger.Logger
	http     *http.Client
	zone     *time.Location
}

type resTime struct {
	time.Time
}

type responseMeta struct {
	Error                bool   `json:"error"`
	Reason               string `json:"reason"`
	UTCOffsetSeconds     int    `json:"utc_offset_seconds"`
	Timezone             string `json:"timezone"`
	TimezoneAbbreviation string `json:"timezone_abbreviation"`
}

type currentResponse struct {
	responseMeta
	CurrentUnits struct {
		Temperature string `json:"temperature_2m"`
	} `json:"current_units"`
	Current struct {
		Time                resTime  `json:"time"`
		Temperature         *float64 `json:"temperature_2m"`
		ApparentTemperature *float64 `json:"apparent_temperature"`
		DewPoint            *float64 `json:"dew_point_2m"`
		RelativeHumidity    *float64 `json:"relative_humidity_2m"`
	} `json:"current"`
}

type hourlyResponse struct {
	responseMeta
	Hourly struct {
		Time             []resTime  `json:"time"`
		RelativeHumidity []*float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

func New(http *http.Client, log *logger.Logger, unit string) (*OpenMeteo, error) {
	if http == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &OpenMeteo{unit: unit, endpoint: apiEndpoint, http: http, log: log, zone: time.Local}, nil
}

func (o *OpenMeteo) Name() string {
	return name
}

// GetCurrent retrieves the current conditions. Temperatures are returned in the configured unit
// system, the relative humidity as a fraction.
func (o *OpenMeteo) GetCurrent(ctx context.Context, coords weather.Coordinate) (weather.Current, error) {
	var current weather.Current
	if !coords.Valid() {
		return current, weather.ErrInvalidCoordinate
	}
	res := new(currentResponse)
	query := o.baseQuery(coords)
	query.Set("current", strings.Join(currentFields, ","))

	if err := o.get(ctx, res, &res.responseMeta, query); err != nil {
		return current, err
	}
	if res.Current.Temperature == nil || res.Current.RelativeHumidity == nil {
		return current, fmt.Errorf("Open-Meteo API response is missing current conditions")
	}

	current.InstantTime = o.localize(res.Current.Time.Time, res.responseMeta)
	current.Temperature = *res.Current.Temperature
	current.ApparentTemperature = valueOr(res.Current.ApparentTemperature, current.Temperature)
	current.DewPoint = valueOr(res.Current.DewPoint, 0)
	current.RelativeHumidityFraction = *res.Current.RelativeHumidity / 100
	current.TemperatureUnit = res.CurrentUnits.Temperature
	if current.TemperatureUnit == "" {
		current.TemperatureUnit = o.unitSymbol()
	}

	return current, nil
}

// GetHourly retrieves the hourly relative humidity forecast between start and end (both inclusive).
// Hours the API has no value for are skipped.
func (o *OpenMeteo) GetHourly(ctx context.Context, coords weather.Coordinate, start, end time.Time) ([]weather.Hourly, error) {
	if !coords.Valid() {
		return nil, weather.ErrInvalidCoordinate
	}
	if end.Before(start) {
		return nil, fmt.Errorf("invalid forecast range: end %s is before start %s", end, start)
	}
	res := new(hourlyResponse)
	query := o.baseQuery(coords)
	query.Set("hourly", strings.Join(hourlyFields, ","))
	query.Set("past_days", "1")
	query.Set("forecast_days", "2")

	if err := o.get(ctx, res, &res.responseMeta, query); err != nil {
		return nil, err
	}
	if len(res.Hourly.Time) != len(res.Hourly.RelativeHumidity) {
		return nil, fmt.Errorf("Open-Meteo API returned %d timestamps but %d humidity values",
			len(res.Hourly.Time), len(res.Hourly.RelativeHumidity))
	}

	hourly := make([]weather.Hourly, 0, 25)
	for i := range res.Hourly.Time {
		instant := o.localize(res.Hourly.Time[i].Time, res.responseMeta)
		if instant.Before(start) || instant.After(end) {
			continue
		}
		if res.Hourly.RelativeHumidity[i] == nil {
			o.log.Debug("skipping forecast hour without humidity value", "time", instant)
			continue
		}
		hourly = append(hourly, weather.Hourly{
			InstantTime:              instant,
			RelativeHumidityFraction: *res.Hourly.RelativeHumidity[i] / 100,
		})
	}

	return hourly, nil
}

func (o *OpenMeteo) baseQuery(coords weather.Coordinate) url.Values {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%f", coords.Lat))
	query.Set("longitude", fmt.Sprintf("%f", coords.Lon))
	query.Set("timezone", "auto")
	if strings.EqualFold(o.unit, "imperial") {
		query.Set("temperature_unit", "fahrenheit")
	}
	return query
}

func (o *OpenMeteo) get(ctx context.Context, target any, meta *responseMeta, query url.Values) error {
	code, err := o.http.GetWithTimeout(ctx, o.endpoint, target, query, nil, apiTimeout)
	if err != nil {
		var rateErr *http.RateLimitError
		if errors.As(err, &rateErr) {
			return &weather.RateLimitError{Provider: name, RetryAfter: rateErr.RetryAfter}
		}
		return fmt.Errorf("failed to retrieve weather data from Open-Meteo API: %w", err)
	}
	if code != 200 || meta.Error {
		if meta.Reason != "" {
			return fmt.Errorf("Open-Meteo API returned error (code %d): %s", code, meta.Reason)
		}
		return fmt.Errorf("Open-Meteo API returned non-positive response code: %d", code)
	}
	return nil
}

func (o *OpenMeteo) unitSymbol() string {
	if strings.EqualFold(o.unit, "imperial") {
		return "°F"
	}
	return "°C"
}

// localize interprets the wall clock time returned by the API in the zone of the requested location
// and returns the instant in the zone of the device.
func (o *OpenMeteo) localize(t time.Time, meta responseMeta) time.Time {
	zone := time.FixedZone(meta.TimezoneAbbreviation, meta.UTCOffsetSeconds)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, zone).In(o.zone)
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func (r *resTime) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty time")
	}
	if len(b) < 2 || b[0] != '"' {
		return fmt.Errorf("invalid time format: %s", string(b))
	}

	apiTime, err := time.Parse(timeLayout, string(b[1:len(b)-1]))
	if err != nil {
		return fmt.Errorf("failed to parse time: %w", err)
	}
	r.Time = apiTime

	return nil
}
