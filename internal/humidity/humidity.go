// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package humidity converts between temperature units and derives absolute humidity from a
// temperature and a relative humidity reading.
package humidity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// Magnus coefficients (Bolton 1980) for saturation vapour pressure over water in hPa.
	magnusBase  = 6.112
	magnusAlpha = 17.67
	magnusBeta  = 243.5

	// waterVapourFactor combines the molar mass of water and the gas constant (g·K/J) so that the
	// result is expressed in g/m³ when the vapour pressure is given in hPa and RH in percent.
	waterVapourFactor = 2.1674
	kelvinOffset      = 273.15
)

// ErrInvalidInput is returned for user supplied readings that are outside their physical range.
var ErrInvalidInput = errors.New("invalid humidity input")

// Unit is a temperature unit preference.
type Unit int

const (
	Celsius Unit = iota
	Fahrenheit
)

// ParseUnit parses the persisted or configured form of a Unit. Both the unit names ("celsius",
// "fahrenheit") and the unit systems ("metric", "imperial") are accepted.
func ParseUnit(val string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "celsius", "metric", "c", "°c":
		return Celsius, nil
	case "fahrenheit", "imperial", "f", "°f":
		return Fahrenheit, nil
	default:
		return Celsius, fmt.Errorf("unsupported temperature unit: %q", val)
	}
}

// String returns the persisted form of the unit.
func (u Unit) String() string {
	if u == Fahrenheit {
		return "fahrenheit"
	}
	return "celsius"
}

// Symbol returns the display symbol of the unit.
func (u Unit) Symbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// ToCelsius converts a temperature expressed in u to Celsius.
func (u Unit) ToCelsius(val float64) float64 {
	if u == Fahrenheit {
		return FahrenheitToCelsius(val)
	}
	return val
}

// FromCelsius converts a Celsius temperature to u.
func (u Unit) FromCelsius(val float64) float64 {
	if u == Fahrenheit {
		return CelsiusToFahrenheit(val)
	}
	return val
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Unit) UnmarshalText(text []byte) error {
	parsed, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func FahrenheitToCelsius(val float64) float64 {
	return (val - 32) * 5 / 9
}

func CelsiusToFahrenheit(val float64) float64 {
	return val*9/5 + 32
}

// AbsoluteHumidity returns the mass of water vapour per cubic metre of air in g/m³ for the given
// temperature in degrees Celsius and the relative humidity in percent (0-100).
//
// The function is total for finite input. At -273.15°C the denominator becomes zero and the
// result is ±Inf or NaN; such temperatures do not occur in weather data.
func AbsoluteHumidity(tempCelsius, relativeHumidity float64) float64 {
	vapourPressure := magnusBase * math.Exp((magnusAlpha*tempCelsius)/(tempCelsius+magnusBeta))
	return (vapourPressure * relativeHumidity * waterVapourFactor) / (tempCelsius + kelvinOffset)
}
