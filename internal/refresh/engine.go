// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package refresh

import (
	"context"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

// Engine is the entry point of every surface. It combines the Orchestrator with the settings
// kept in the Store.
type Engine struct {
	orchestrator *Orchestrator
	store        *store.Store
	logger       *logger.Logger
}

func NewEngine(orchestrator *Orchestrator, st *store.Store, log *logger.Logger) *Engine {
	return &Engine{orchestrator: orchestrator, store: st, logger: log}
}

// CurrentSnapshot returns the persisted snapshot or nil if there is none.
func (e *Engine) CurrentSnapshot(ctx context.Context) (*store.Snapshot, error) {
	return e.orchestrator.CurrentSnapshot(ctx)
}

// Refresh refreshes the snapshot for the saved location. The cooldown is enforced depending on
// the trigger.
func (e *Engine) Refresh(ctx context.Context, trigger Trigger) (*store.Snapshot, error) {
	loc, err := e.SavedLocation(ctx)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, ErrNoLocation
	}
	return e.RefreshLocation(ctx, *loc, trigger)
}

// RefreshLocation refreshes the snapshot for loc.
func (e *Engine) RefreshLocation(ctx context.Context, loc store.Location, trigger Trigger) (*store.Snapshot, error) {
	snap, err := e.orchestrator.Refresh(ctx, loc, trigger.Enforced())
	switch {
	case err == nil:
		e.logger.Debug("refresh completed", "trigger", trigger.String())
	case IsNotice(err):
		e.logger.Debug("refresh skipped", "trigger", trigger.String(), logger.Err(err))
	default:
		e.logger.Error("refresh failed", "trigger", trigger.String(), logger.Err(err))
	}
	return snap, err
}

// SelectLocation saves loc and refreshes the snapshot for it, bypassing the cooldown.
func (e *Engine) SelectLocation(ctx context.Context, loc store.Location) (*store.Snapshot, error) {
	if err := e.SaveLocation(ctx, loc); err != nil {
		return nil, err
	}
	return e.RefreshLocation(ctx, loc, TriggerLocationChange)
}

func (e *Engine) SavedLocation(ctx context.Context) (*store.Location, error) {
	loc, err := e.store.SavedLocation(ctx)
	if err != nil {
		return nil, &PersistError{Op: "read location", Err: err}
	}
	return loc, nil
}

func (e *Engine) SaveLocation(ctx context.Context, loc store.Location) error {
	return e.store.SaveLocation(ctx, loc)
}

func (e *Engine) Unit(ctx context.Context) (humidity.Unit, error) {
	return e.store.Unit(ctx)
}

func (e *Engine) SetUnit(ctx context.Context, unit humidity.Unit) error {
	return e.store.SetUnit(ctx, unit)
}

func (e *Engine) HomeHours(ctx context.Context) (ventilation.HomeHours, error) {
	return e.store.HomeHours(ctx)
}

// SetHomeHours stores the home hours. The persisted snapshot is not recomputed, the next refresh
// picks them up.
func (e *Engine) SetHomeHours(ctx context.Context, home ventilation.HomeHours) error {
	return e.store.SetHomeHours(ctx, home)
}
