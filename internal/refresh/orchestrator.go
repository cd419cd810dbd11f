// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

// DefaultHorizon is the length of the requested hourly forecast, counted from the start of the
// current hour.
const DefaultHorizon = 24 * time.Hour

// Notifier is informed about every snapshot persisted by the Orchestrator.
type Notifier interface {
	Publish(snap *store.Snapshot)
}

// Orchestrator fetches the weather for a location, derives humidity figures and the ventilation
// window from it and persists the result as one snapshot.
type Orchestrator struct {
	provider weather.Provider
	store    *store.Store
	gate     *Gate
	cooldown time.Duration
	clock    clockwork.Clock
	horizon  time.Duration
	timeout  time.Duration
	notifier Notifier
	logger   *logger.Logger
	// running holds one token per refresh in progress
	running chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithCooldown(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.cooldown = interval
	}
}

func WithHorizon(horizon time.Duration) Option {
	return func(o *Orchestrator) {
		if horizon > 0 {
			o.horizon = horizon
		}
	}
}

// WithTimeout limits the time the provider requests of a refresh may take.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = timeout
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = notifier
	}
}

func NewOrchestrator(provider weather.Provider, st *store.Store, log *logger.Logger, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("weather provider is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	o := &Orchestrator{
		provider: provider,
		store:    st,
		clock:    clockwork.NewRealClock(),
		cooldown: DefaultCooldown,
		horizon:  DefaultHorizon,
		logger:   log,
		running:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gate = NewGate(o.cooldown, o.clock)
	return o, nil
}

// CurrentSnapshot returns the persisted snapshot without contacting the provider.
func (o *Orchestrator) CurrentSnapshot(ctx context.Context) (*store.Snapshot, error) {
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		return nil, &PersistError{Op: "read snapshot", Err: err}
	}
	return snap, nil
}

// Refresh fetches the current conditions and the hourly forecast for loc and persists the derived
// snapshot. Nothing is persisted unless both requests succeed.
//
// Refreshes of one Orchestrator run one at a time. With enforceCooldown the gate is checked before
// the fetch and again while the snapshot is written, so a refresh completed in the meantime, by this
// or by another process, makes the call fail with CooldownActiveError.
func (o *Orchestrator) Refresh(ctx context.Context, loc store.Location, enforceCooldown bool) (*store.Snapshot, error) {
	select {
	case o.running <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("refresh aborted: %w", ctx.Err())
	}
	defer func() { <-o.running }()

	if enforceCooldown {
		last, err := o.store.LastRefresh(ctx)
		if err != nil {
			return nil, &PersistError{Op: "read last refresh", Err: err}
		}
		if err = o.gate.Check(last, true); err != nil {
			return nil, err
		}
	}

	now := o.clock.Now()
	start := startOfHour(now)
	end := start.Add(o.horizon)

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, o.timeout)
	}
	defer cancel()

	var current weather.Current
	var hourly []weather.Hourly
	group, groupCtx := errgroup.WithContext(fetchCtx)
	group.Go(func() error {
		var err error
		current, err = o.provider.GetCurrent(groupCtx, loc.Coordinate)
		return err
	})
	group.Go(func() error {
		var err error
		hourly, err = o.provider.GetHourly(groupCtx, loc.Coordinate, start, end)
		return err
	})
	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("refresh aborted: %w", ctx.Err())
		}
		return nil, o.providerError(err)
	}

	unit, err := humidity.ParseUnit(current.TemperatureUnit)
	if err != nil {
		o.logger.Debug("unknown temperature unit, assuming celsius", "unit", current.TemperatureUnit)
		unit = humidity.Celsius
	}
	temperature := unit.ToCelsius(current.Temperature)
	relativeHumidity := current.RelativeHumidityFraction * 100

	snap := &store.Snapshot{
		ID: uuid.New(),
		Current: store.Current{
			Time:                current.InstantTime,
			Temperature:         temperature,
			ApparentTemperature: unit.ToCelsius(current.ApparentTemperature),
			DewPoint:            unit.ToCelsius(current.DewPoint),
			RelativeHumidity:    relativeHumidity,
			AbsoluteHumidity:    humidity.AbsoluteHumidity(temperature, relativeHumidity),
		},
		Hourly:    ventilation.PointsFromForecast(hourly),
		FetchedAt: now,
	}

	home, err := o.store.HomeHours(ctx)
	if err != nil {
		return nil, &PersistError{Op: "read home hours", Err: err}
	}
	if window, ok := ventilation.Select(snap.Hourly, home); ok {
		snap.Window = &window
		if predicted, ok := ventilation.PredictedHumidity(snap.Hourly, window); ok {
			snap.PredictedHumidity.Set(predicted)
		}
	}

	var check func(time.Time) error
	if enforceCooldown {
		check = func(last time.Time) error {
			return o.gate.Check(last, true)
		}
	}
	if err = o.store.SaveSnapshotIf(ctx, snap, check); err != nil {
		var cooldownErr *CooldownActiveError
		if errors.As(err, &cooldownErr) {
			o.logger.Debug("discarding fetched weather, refreshed elsewhere in the meantime",
				"location", loc.Name, "remaining", cooldownErr.Remaining)
			return nil, err
		}
		return nil, &PersistError{Op: "persist snapshot", Err: err}
	}
	o.logger.Debug("weather snapshot persisted", "location", loc.Name, "version", snap.Version,
		"hourly_points", len(snap.Hourly), "window", snap.Window != nil)

	if o.notifier != nil {
		o.notifier.Publish(snap)
	}
	return snap, nil
}

func (o *Orchestrator) providerError(err error) error {
	var rateErr *weather.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := rateErr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = weather.DefaultRetryAfter
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return &UpstreamError{Cause: err}
}

func startOfHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
