// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package weather

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultRetryAfter is assumed when an upstream signals a rate limit without a backoff hint.
const DefaultRetryAfter = 5 * time.Minute

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Provider is implemented by each weather API backend. Timestamps are returned in the zone of the
// device, so home hours always refer to the clock the user sees, regardless of the provider.
type Provider interface {
	Name() string
	// GetCurrent returns the current conditions for the coordinate.
	GetCurrent(ctx context.Context, coords Coordinate) (Current, error)
	// GetHourly returns the hourly forecast for the coordinate in the closed range [start, end],
	// ordered chronologically.
	GetHourly(ctx context.Context, coords Coordinate, start, end time.Time) ([]Hourly, error)
}

// Coordinate represents a geographic coordinate.
type Coordinate struct {
	Lat float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Lon float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Valid checks if the coordinate is valid according to the EPSG logic
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// Current holds the current conditions as returned by a Provider. Temperatures are expressed in
// TemperatureUnit, the relative humidity is a fraction between 0 and 1.
type Current struct {
	InstantTime              time.Time
	Temperature              float64
	ApparentTemperature      float64
	DewPoint                 float64
	RelativeHumidityFraction float64
	TemperatureUnit          string
}

// Hourly is a single forecast hour. The relative humidity is a fraction between 0 and 1.
type Hourly struct {
	InstantTime              time.Time
	RelativeHumidityFraction float64
}

// RateLimitError is returned by a Provider when the upstream API rejected a request because of
// rate limiting.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
}
