// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"

	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

const (
	configEnv = "WAYBARHUMIDITY"
	appName   = "waybar-humidity"

	DefaultCurrentTextTpl    = "{{.Icon}} {{floatFormat .RelativeHumidity 0}}%"
	DefaultCurrentAltTextTpl = "{{.Icon}} {{floatFormat .AbsoluteHumidity 1}} g/m³"
	DefaultCurrentTooltipTpl = "{{loc \"location\"}}: {{.Location}}\n" +
		"{{loc \"temp\"}}: {{floatFormat .Temperature 1}}{{.Unit}} ({{loc \"apparent\"}} {{floatFormat .ApparentTemperature 1}}{{.Unit}})\n" +
		"{{loc \"dewpoint\"}}: {{floatFormat .DewPoint 1}}{{.Unit}}\n" +
		"{{loc \"relhumidity\"}}: {{floatFormat .RelativeHumidity 0}}%\n" +
		"{{loc \"abshumidity\"}}: {{floatFormat .AbsoluteHumidity 1}} g/m³\n" +
		"{{loc \"updated\"}}: {{ago .UpdateTime}}"
	DefaultVentilationTextTpl = "{{.WindowIcon}} {{if .HasWindow}}{{timeFormat .WindowStart \"15:04\"}}-" +
		"{{timeFormat .WindowEnd \"15:04\"}}{{else}}--{{end}}"
	DefaultVentilationAltTextTpl = "{{.WindowIcon}} {{if .HasPrediction}}{{floatFormat .PredictedHumidity 0}}%" +
		"{{else}}--{{end}}"
	DefaultVentilationTooltipTpl = "{{loc \"location\"}}: {{.Location}}\n" +
		"{{if .HasWindow}}{{loc \"window\"}}: {{localizedTime .WindowStart}} - {{localizedTime .WindowEnd}}\n" +
		"{{loc \"predicted\"}}: {{if .HasPrediction}}{{floatFormat .PredictedHumidity 0}}%{{else}}--{{end}}\n" +
		"{{else}}{{loc \"nowindow\"}}\n{{end}}" +
		"{{loc \"homehours\"}}: {{.HomeHours}}\n" +
		"{{loc \"sunrise\"}}: {{timeFormat .SunriseTime \"15:04\"}} / {{loc \"sunset\"}}: {{timeFormat .SunsetTime \"15:04\"}}\n" +
		"{{loc \"moonphase\"}}: {{.MoonPhaseIcon}} {{loc .MoonPhase}}"
)

var (
	weatherProviders = []string{"open-meteo", "open-meteo-sdk"}
	storeBackends    = []string{"file", "postgres", "memory"}
	searchProviders  = []string{"osm-nominatim", "geocode-earth", "opencage"}
)

// Template holds the templates of one waybar widget.
type Template struct {
	Text    string `fig:"text"`
	AltText string `fig:"alt_text"`
	Tooltip string `fig:"tooltip"`
}

// Config represents the application's configuration structure.
type Config struct {
	// Allowed values: metric, imperial
	Units    string     `fig:"units" default:"metric"`
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Weather struct {
		// Allowed values: open-meteo, open-meteo-sdk
		Provider string        `fig:"provider" default:"open-meteo"`
		Timeout  time.Duration `fig:"timeout" default:"15s"`
		// Allowed values: 1h to 24h
		Horizon time.Duration `fig:"horizon" default:"24h"`
	} `fig:"weather"`

	Intervals struct {
		Cooldown    time.Duration `fig:"cooldown" default:"30s"`
		AutoRefresh time.Duration `fig:"auto_refresh" default:"30m"`
		Output      time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	HomeHours struct {
		Start string `fig:"start" default:"08:00"`
		End   string `fig:"end" default:"20:00"`
	} `fig:"home_hours"`

	Store struct {
		// Allowed values: file, postgres, memory
		Backend string `fig:"backend" default:"file"`
		Path    string `fig:"path"`
		DSN     string `fig:"dsn"`
	} `fig:"store"`

	Search struct {
		// Allowed values: osm-nominatim, geocode-earth, opencage
		Provider string        `fig:"provider" default:"osm-nominatim"`
		APIKey   string        `fig:"apikey"`
		CacheTTL time.Duration `fig:"cache_ttl" default:"1h"`
	} `fig:"search"`

	MQTT struct {
		Broker   string `fig:"broker"`
		Topic    string `fig:"topic" default:"waybar-humidity/snapshot"`
		ClientID string `fig:"client_id"`
	} `fig:"mqtt"`

	API struct {
		Listen         string   `fig:"listen" default:"127.0.0.1:8787"`
		AllowedOrigins []string `fig:"allowed_origins"`
	} `fig:"api"`

	Templates struct {
		Current     Template `fig:"current"`
		Ventilation Template `fig:"ventilation"`
	} `fig:"templates"`

	homeHours ventilation.HomeHours
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = loadDotEnv(); err != nil {
		return conf, err
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := loadDotEnv(); err != nil {
		return conf, err
	}
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Load reads the config file at file if given, the config file in the default location if one
// exists or the defaults and environment otherwise.
func Load(file string) (*Config, error) {
	if file != "" {
		return NewFromFile(filepath.Dir(file), filepath.Base(file))
	}
	if path, name := FindConfigFile(); path != "" && name != "" {
		return NewFromFile(path, name)
	}
	return New()
}

func (c *Config) Validate() error {
	if c.Units != "metric" && c.Units != "imperial" {
		return fmt.Errorf("invalid units: %s", c.Units)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if !slices.Contains(weatherProviders, c.Weather.Provider) {
		return fmt.Errorf("invalid weather provider: %s", c.Weather.Provider)
	}
	if c.Weather.Timeout <= 0 {
		return fmt.Errorf("invalid weather timeout: %s", c.Weather.Timeout)
	}
	if c.Weather.Horizon < time.Hour || c.Weather.Horizon > 24*time.Hour {
		return fmt.Errorf("invalid forecast horizon: %s", c.Weather.Horizon)
	}
	if c.Intervals.Cooldown <= 0 {
		return fmt.Errorf("invalid cooldown interval: %s", c.Intervals.Cooldown)
	}
	if c.Intervals.AutoRefresh < c.Intervals.Cooldown {
		return fmt.Errorf("auto refresh interval %s must not be shorter than the cooldown %s",
			c.Intervals.AutoRefresh, c.Intervals.Cooldown)
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}

	start, err := ventilation.ParseTimeOfDay(c.HomeHours.Start)
	if err != nil {
		return fmt.Errorf("invalid home hours start: %w", err)
	}
	end, err := ventilation.ParseTimeOfDay(c.HomeHours.End)
	if err != nil {
		return fmt.Errorf("invalid home hours end: %w", err)
	}
	c.homeHours = ventilation.HomeHours{Start: start, End: end}
	if err = c.homeHours.Validate(); err != nil {
		return err
	}

	if !slices.Contains(storeBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return errors.New("store dsn is required for the postgres backend")
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}

	if !slices.Contains(searchProviders, c.Search.Provider) {
		return fmt.Errorf("invalid search provider: %s", c.Search.Provider)
	}
	if c.Search.Provider != "osm-nominatim" && c.Search.APIKey == "" {
		return fmt.Errorf("search apikey is required for the %s provider", c.Search.Provider)
	}

	if c.Templates.Current.Text == "" {
		c.Templates.Current.Text = DefaultCurrentTextTpl
	}
	if c.Templates.Current.AltText == "" {
		c.Templates.Current.AltText = DefaultCurrentAltTextTpl
	}
	if c.Templates.Current.Tooltip == "" {
		c.Templates.Current.Tooltip = DefaultCurrentTooltipTpl
	}
	if c.Templates.Ventilation.Text == "" {
		c.Templates.Ventilation.Text = DefaultVentilationTextTpl
	}
	if c.Templates.Ventilation.AltText == "" {
		c.Templates.Ventilation.AltText = DefaultVentilationAltTextTpl
	}
	if c.Templates.Ventilation.Tooltip == "" {
		c.Templates.Ventilation.Tooltip = DefaultVentilationTooltipTpl
	}

	return nil
}

// DefaultHomeHours returns the configured home hours. They are used until the user stores their
// own.
func (c *Config) DefaultHomeHours() ventilation.HomeHours {
	return c.homeHours
}

// FindConfigFile returns the directory and name of the first config file found in the default
// location.
func FindConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", appName, "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}

// loadDotEnv reads a .env file in the working directory if there is one. Variables already set in
// the environment take precedence.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

func defaultStorePath() string {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, appName, "store.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", appName, "store.json")
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
