// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ventilation selects the optimal ventilation window from an hourly humidity forecast.
package ventilation

import (
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/waybar-humidity/internal/weather"
)

// WindowSpan is the length of a ventilation window.
const WindowSpan = 2 * time.Hour

var ErrInvalidHomeHours = errors.New("invalid home hours")

// DefaultHomeHours is used when no home hours have been configured.
var DefaultHomeHours = HomeHours{
	Start: TimeOfDay{Hour: 8},
	End:   TimeOfDay{Hour: 20},
}

// TimeOfDay is a wall clock time without a date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses a time in the form HH:MM.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q is not in HH:MM format", ErrInvalidHomeHours, value)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// HomeHours is the daily range in which the user is at home to open the windows.
type HomeHours struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (h HomeHours) Validate() error {
	if !h.Start.valid() {
		return fmt.Errorf("%w: start %s out of range", ErrInvalidHomeHours, h.Start)
	}
	if !h.End.valid() {
		return fmt.Errorf("%w: end %s out of range", ErrInvalidHomeHours, h.End)
	}
	return nil
}

func (h HomeHours) String() string {
	return h.Start.String() + "-" + h.End.String()
}

// Contains reports whether the hour lies within the home hours. Minutes are ignored and both
// ends are inclusive.
func (h HomeHours) Contains(hour int) bool {
	return hour >= h.Start.Hour && hour <= h.End.Hour
}

// HourlyPoint is a single forecast hour with the relative humidity as a percentage (0-100).
type HourlyPoint struct {
	Time             time.Time `json:"time"`
	RelativeHumidity float64   `json:"relative_humidity"`
}

// PointsFromForecast maps provider forecast hours to HourlyPoints.
func PointsFromForecast(hourly []weather.Hourly) []HourlyPoint {
	points := make([]HourlyPoint, 0, len(hourly))
	for _, hour := range hourly {
		points = append(points, HourlyPoint{
			Time:             hour.InstantTime,
			RelativeHumidity: hour.RelativeHumidityFraction * 100,
		})
	}
	return points
}

// Window is a ventilation window of WindowSpan.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Select returns the window starting at the forecast hour with the lowest relative humidity within
// the home hours. On a tie the earliest hour wins. The hour of day is taken in the location of each
// timestamp. The second return value is false if no forecast hour lies within the home hours.
func Select(hourly []HourlyPoint, home HomeHours) (Window, bool) {
	var best *HourlyPoint
	for i := range hourly {
		point := &hourly[i]
		if !home.Contains(point.Time.Hour()) {
			continue
		}
		if best == nil || point.RelativeHumidity < best.RelativeHumidity ||
			(point.RelativeHumidity == best.RelativeHumidity && point.Time.Before(best.Time)) {
			best = point
		}
	}
	if best == nil {
		return Window{}, false
	}
	return Window{Start: best.Time, End: best.Time.Add(WindowSpan)}, true
}

// PredictedHumidity returns the lowest relative humidity forecasted within the window, both ends
// inclusive.
func PredictedHumidity(hourly []HourlyPoint, window Window) (float64, bool) {
	found := false
	var lowest float64
	for _, point := range hourly {
		if point.Time.Before(window.Start) || point.Time.After(window.End) {
			continue
		}
		if !found || point.RelativeHumidity < lowest {
			lowest = point.RelativeHumidity
			found = true
		}
	}
	return lowest, found
}
