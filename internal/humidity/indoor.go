// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package humidity

import (
	"fmt"
	"math"
)

// Advice is the ventilation recommendation derived from comparing indoor and outdoor absolute humidity.
type Advice int

const (
	// AdviceNone means that there is not enough data for a recommendation.
	AdviceNone Advice = iota
	// AdviceVentilate means the outdoor air carries less water than the indoor air.
	AdviceVentilate
	// AdviceKeepClosed means opening the windows would not lower the indoor humidity.
	AdviceKeepClosed
)

func (a Advice) String() string {
	switch a {
	case AdviceVentilate:
		return "ventilate"
	case AdviceKeepClosed:
		return "keep_closed"
	default:
		return "none"
	}
}

// Indoor computes the absolute humidity of an indoor reading. The temperature is given in unit and
// converted to Celsius before the formula is applied.
func Indoor(temp float64, unit Unit, relativeHumidity float64) (float64, error) {
	if math.IsNaN(temp) || math.IsInf(temp, 0) {
		return 0, fmt.Errorf("%w: temperature must be a finite number", ErrInvalidInput)
	}
	if math.IsNaN(relativeHumidity) || relativeHumidity < 0 || relativeHumidity > 100 {
		return 0, fmt.Errorf("%w: relative humidity must be between 0 and 100, got %g", ErrInvalidInput,
			relativeHumidity)
	}
	tempCelsius := unit.ToCelsius(temp)
	if tempCelsius <= -kelvinOffset {
		return 0, fmt.Errorf("%w: temperature below absolute zero", ErrInvalidInput)
	}
	return AbsoluteHumidity(tempCelsius, relativeHumidity), nil
}

// Compare returns AdviceVentilate if the indoor air holds more water than the outdoor air.
func Compare(indoorAbsolute, outdoorAbsolute float64) Advice {
	if indoorAbsolute > outdoorAbsolute {
		return AdviceVentilate
	}
	return AdviceKeepClosed
}
