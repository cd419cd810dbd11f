// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"text/template"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/wneessen/go-moonphase"

	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

const OutputClass = "waybar-humidity"

// Widget identifies one of the glanceable waybar modules.
type Widget string

const (
	WidgetCurrent     Widget = "current"
	WidgetVentilation Widget = "ventilation"
)

var ErrUnknownWidget = errors.New("unknown widget")

func ParseWidget(val string) (Widget, error) {
	switch Widget(val) {
	case WidgetCurrent, WidgetVentilation:
		return Widget(val), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWidget, val)
	}
}

// TemplateContext is the data the widget templates are rendered with. Temperatures are in the
// display unit.
type TemplateContext struct {
	Location  string
	Latitude  float64
	Longitude float64
	HasData   bool

	UpdateTime          time.Time
	Unit                string
	Temperature         float64
	ApparentTemperature float64
	DewPoint            float64
	RelativeHumidity    float64
	AbsoluteHumidity    float64
	Category            string
	Icon                string
	IconWithSpace       string

	HomeHours         string
	WindowIcon        string
	HasWindow         bool
	WindowStart       time.Time
	WindowEnd         time.Time
	HasPrediction     bool
	PredictedHumidity float64

	SunriseTime   time.Time
	SunsetTime    time.Time
	IsDaytime     bool
	MoonPhase     string
	MoonPhaseIcon string
}

// Output is a single line of the waybar custom module protocol.
type Output struct {
	Text    string   `json:"text"`
	Alt     string   `json:"alt"`
	Tooltip string   `json:"tooltip"`
	Class   []string `json:"class"`
}

type widgetTemplates struct {
	Text    *template.Template
	AltText *template.Template
	Tooltip *template.Template
}

type Presenter struct {
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
	widgets   map[Widget]widgetTemplates
}

func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	collection := humanize.MustNew(humanize.WithLocale(de.New()))
	pres := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(loc.Language()),
		widgets:   make(map[Widget]widgetTemplates),
	}

	sources := map[Widget]config.Template{
		WidgetCurrent:     conf.Templates.Current,
		WidgetVentilation: conf.Templates.Ventilation,
	}
	for widget, source := range sources {
		tpls, err := pres.parseTemplates(widget, source)
		if err != nil {
			return nil, err
		}
		pres.widgets[widget] = tpls
	}

	// Render once against an empty context, so broken templates fail at startup
	for widget := range pres.widgets {
		if _, err := pres.render(widget, TemplateContext{HasData: true}); err != nil {
			return nil, err
		}
	}

	return pres, nil
}

// BuildContext turns the persisted state into a template context. A nil snapshot yields a context
// with HasData unset.
func (p *Presenter) BuildContext(loc *store.Location, snap *store.Snapshot, unit humidity.Unit,
	home ventilation.HomeHours, now time.Time,
) TemplateContext {
	ctx := TemplateContext{
		Unit:       unit.Symbol(),
		HomeHours:  home.String(),
		WindowIcon: VentilationIcon,
	}
	if loc != nil {
		ctx.Location = loc.Name
		ctx.Latitude = loc.Coordinate.Lat
		ctx.Longitude = loc.Coordinate.Lon
		ctx.SunriseTime, ctx.SunsetTime = sunrise.SunriseSunset(loc.Coordinate.Lat, loc.Coordinate.Lon,
			now.Year(), now.Month(), now.Day())
		ctx.SunriseTime = ctx.SunriseTime.In(now.Location())
		ctx.SunsetTime = ctx.SunsetTime.In(now.Location())
		ctx.IsDaytime = now.After(ctx.SunriseTime) && now.Before(ctx.SunsetTime)
	}

	moon := moonphase.New(now)
	ctx.MoonPhase = moon.PhaseName()
	ctx.MoonPhaseIcon = MoonPhaseIcon[ctx.MoonPhase]

	if snap == nil {
		return ctx
	}

	ctx.HasData = true
	ctx.UpdateTime = snap.FetchedAt
	ctx.Temperature = unit.FromCelsius(snap.Current.Temperature)
	ctx.ApparentTemperature = unit.FromCelsius(snap.Current.ApparentTemperature)
	ctx.DewPoint = unit.FromCelsius(snap.Current.DewPoint)
	ctx.RelativeHumidity = snap.Current.RelativeHumidity
	ctx.AbsoluteHumidity = snap.Current.AbsoluteHumidity
	ctx.Category = humidityCategory(snap.Current.RelativeHumidity)
	ctx.Icon = HumidityIcons[ctx.Category]
	ctx.IconWithSpace = EmojiWithSpace(ctx.Icon)

	if snap.Window != nil {
		ctx.HasWindow = true
		ctx.WindowStart = snap.Window.Start
		ctx.WindowEnd = snap.Window.End
	}
	ctx.PredictedHumidity, ctx.HasPrediction = snap.PredictedHumidity.Get()

	return ctx
}

// Render renders the given widget. With alt set, the alternative text is used as the module text.
func (p *Presenter) Render(widget Widget, ctx TemplateContext, alt bool) (Output, error) {
	if !ctx.HasData {
		return Output{
			Text:    p.noDataIcon(widget) + " --",
			Alt:     "nodata",
			Tooltip: p.localizer.Get("No data yet"),
			Class:   []string{OutputClass, "nodata"},
		}, nil
	}

	out, err := p.render(widget, ctx)
	if err != nil {
		return Output{}, err
	}
	if alt {
		out.Text, out.Alt = out.Alt, out.Text
	}
	return out, nil
}

// Notice returns the localized user notice for a refresh error.
func (p *Presenter) Notice(err error) string {
	var cooldownErr *refresh.CooldownActiveError
	var rateLimitErr *refresh.RateLimitedError
	var upstreamErr *refresh.UpstreamError
	var persistErr *refresh.PersistError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cooldownErr):
		secs := int(math.Ceil(cooldownErr.Remaining.Seconds()))
		return p.localizer.Getf("Please wait %d seconds before refreshing again", secs)
	case errors.As(err, &rateLimitErr):
		mins := int(math.Ceil(rateLimitErr.RetryAfter.Minutes()))
		return p.localizer.Getf("The weather service is busy, try again in %d minutes", mins)
	case errors.Is(err, refresh.ErrNoLocation):
		return p.localizer.Get("No location selected")
	case errors.As(err, &upstreamErr):
		return p.localizer.Get("The weather service is currently unavailable")
	case errors.As(err, &persistErr):
		return p.localizer.Get("Failed to save the weather data")
	default:
		return err.Error()
	}
}

// Advice returns the localized ventilation advice.
func (p *Presenter) Advice(advice humidity.Advice) string {
	if msg, ok := adviceMessages[advice]; ok {
		return p.localizer.Get(msg)
	}
	return p.localizer.Get(adviceMessages[humidity.AdviceNone])
}

func (p *Presenter) parseTemplates(widget Widget, source config.Template) (widgetTemplates, error) {
	var tpls widgetTemplates
	var err error
	if tpls.Text, err = template.New("text").Funcs(p.templateFuncMap()).Parse(source.Text); err != nil {
		return tpls, fmt.Errorf("failed to parse %s text template: %w", widget, err)
	}
	if tpls.AltText, err = template.New("alt_text").Funcs(p.templateFuncMap()).Parse(source.AltText); err != nil {
		return tpls, fmt.Errorf("failed to parse %s alt text template: %w", widget, err)
	}
	if tpls.Tooltip, err = template.New("tooltip").Funcs(p.templateFuncMap()).Parse(source.Tooltip); err != nil {
		return tpls, fmt.Errorf("failed to parse %s tooltip template: %w", widget, err)
	}
	return tpls, nil
}

func (p *Presenter) render(widget Widget, ctx TemplateContext) (Output, error) {
	tpls, ok := p.widgets[widget]
	if !ok {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownWidget, widget)
	}

	buf := bytes.NewBuffer(nil)
	if err := tpls.Text.Execute(buf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render %s text template: %w", widget, err)
	}
	text := buf.String()

	buf.Reset()
	if err := tpls.AltText.Execute(buf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render %s alt text template: %w", widget, err)
	}
	altText := buf.String()

	buf.Reset()
	if err := tpls.Tooltip.Execute(buf, ctx); err != nil {
		return Output{}, fmt.Errorf("failed to render %s tooltip template: %w", widget, err)
	}

	class := []string{OutputClass, string(widget)}
	if ctx.Category != "" {
		class = append(class, ctx.Category)
	}
	return Output{Text: text, Alt: altText, Tooltip: buf.String(), Class: class}, nil
}

func (p *Presenter) noDataIcon(widget Widget) string {
	if widget == WidgetVentilation {
		return VentilationIcon
	}
	return HumidityIcons[""]
}

// humidityCategory classifies the relative humidity in percent.
func humidityCategory(relativeHumidity float64) string {
	switch {
	case relativeHumidity < 40:
		return "dry"
	case relativeHumidity <= 60:
		return "comfortable"
	default:
		return "humid"
	}
}
