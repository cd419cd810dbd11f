// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package refresh

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCooldown is the minimum time between two enforced refreshes.
const DefaultCooldown = 30 * time.Second

// Trigger is the reason a refresh was requested.
type Trigger int

const (
	TriggerUser Trigger = iota
	TriggerLocationChange
	TriggerAutomatic
	TriggerDayChange
	TriggerResume
)

func (t Trigger) String() string {
	switch t {
	case TriggerUser:
		return "user"
	case TriggerLocationChange:
		return "location-change"
	case TriggerAutomatic:
		return "automatic"
	case TriggerDayChange:
		return "day-change"
	case TriggerResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Enforced reports whether the refresh cooldown applies to the trigger. Only a location change
// bypasses it.
func (t Trigger) Enforced() bool {
	return t != TriggerLocationChange
}

// Gate rejects refreshes that follow the previous one too closely.
type Gate struct {
	interval time.Duration
	clock    clockwork.Clock
}

func NewGate(interval time.Duration, clock clockwork.Clock) *Gate {
	if interval <= 0 {
		interval = DefaultCooldown
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{interval: interval, clock: clock}
}

// Check returns a *CooldownActiveError if enforce is set and lastRefresh lies less than the
// cooldown interval in the past. A zero lastRefresh never blocks. A lastRefresh in the future
// blocks for at most one interval.
func (g *Gate) Check(lastRefresh time.Time, enforce bool) error {
	if !enforce || lastRefresh.IsZero() {
		return nil
	}
	elapsed := g.clock.Since(lastRefresh)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed < g.interval {
		return &CooldownActiveError{Remaining: g.interval - elapsed}
	}
	return nil
}

func (g *Gate) Interval() time.Duration {
	return g.interval
}
