// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-humidity/internal/humidity"
)

const VentilationIcon = "🪟"

// MoonPhaseIcon is a map where moon phase names are keys and their corresponding emoji representations are values.
var MoonPhaseIcon = map[string]string{
	"New Moon":        "🌑",
	"Waxing Crescent": "🌒",
	"First Quarter":   "🌓",
	"Waxing Gibbous":  "🌔",
	"Full Moon":       "🌕",
	"Waning Gibbous":  "🌖",
	"Third Quarter":   "🌗",
	"Waning Crescent": "🌘",
}

// HumidityIcons maps the humidity category to its icon. The empty category is used when no data is
// available.
var HumidityIcons = map[string]string{
	"":            "💧",
	"dry":         "🌵",
	"comfortable": "💧",
	"humid":       "💦",
}

var adviceMessages = map[humidity.Advice]localize.MsgID{
	humidity.AdviceNone:       "No recommendation available",
	humidity.AdviceVentilate:  "Open your windows to lower the indoor humidity",
	humidity.AdviceKeepClosed: "Keep your windows closed, the outside air is more humid",
}

var i18nVars = map[string]localize.MsgID{
	"location":        "Location",
	"temp":            "Temperature",
	"apparent":        "Feels like",
	"dewpoint":        "Dew point",
	"relhumidity":     "Relative humidity",
	"abshumidity":     "Absolute humidity",
	"updated":         "Updated",
	"window":          "Best time to ventilate",
	"predicted":       "Predicted humidity",
	"nowindow":        "No ventilation window within your home hours",
	"homehours":       "Home hours",
	"indoor":          "Indoor",
	"outdoor":         "Outdoor",
	"sunrise":         "Sunrise",
	"sunset":          "Sunset",
	"moonphase":       "Moonphase",
	"new moon":        "New moon",
	"waxing crescent": "Waxing crescent",
	"first quarter":   "First quarter",
	"waxing gibbous":  "Waxing gibbous",
	"full moon":       "Full moon",
	"waning gibbous":  "Waning gibbous",
	"third quarter":   "Third quarter",
	"waning crescent": "Waning crescent",
}
