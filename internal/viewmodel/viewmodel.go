// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/search"
	"github.com/wneessen/waybar-humidity/internal/statebus"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/vartype"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

const (
	NoticeTimeout = 3 * time.Second
	queryBuffer   = 16
)

// Engine is the part of the refresh engine the main view uses.
type Engine interface {
	CurrentSnapshot(ctx context.Context) (*store.Snapshot, error)
	Refresh(ctx context.Context, trigger refresh.Trigger) (*store.Snapshot, error)
	SelectLocation(ctx context.Context, loc store.Location) (*store.Snapshot, error)
	SavedLocation(ctx context.Context) (*store.Location, error)
	Unit(ctx context.Context) (humidity.Unit, error)
	SetUnit(ctx context.Context, unit humidity.Unit) error
	HomeHours(ctx context.Context) (ventilation.HomeHours, error)
	SetHomeHours(ctx context.Context, home ventilation.HomeHours) error
}

// Messages turns errors and advice into user-facing text.
type Messages interface {
	Notice(err error) string
	Advice(advice humidity.Advice) string
}

// Indoor is the indoor reading entered by the user. The temperature is in the display unit.
type Indoor struct {
	Temperature      float64 `json:"temperature"`
	RelativeHumidity float64 `json:"relative_humidity"`
}

// State is the complete main view state. Observers always receive a copy.
type State struct {
	Location  *store.Location       `json:"location,omitempty"`
	Unit      humidity.Unit         `json:"unit"`
	HomeHours ventilation.HomeHours `json:"home_hours"`
	// Snapshot is the last known good snapshot from the Store.
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	// Current holds the displayed current conditions. It is cleared after a failed refresh while
	// Snapshot stays.
	Current *store.Current `json:"current,omitempty"`

	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Notice  string `json:"notice,omitempty"`

	Query       string         `json:"query,omitempty"`
	Suggestions []search.Place `json:"suggestions,omitempty"`

	Indoor         *Indoor            `json:"indoor,omitempty"`
	IndoorAbsolute vartype.VarFloat64 `json:"indoor_absolute"`
	Advice         humidity.Advice    `json:"advice"`
	AdviceText     string             `json:"advice_text,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	if s.Current != nil {
		cur := *s.Current
		out.Current = &cur
	}
	if s.Indoor != nil {
		indoor := *s.Indoor
		out.Indoor = &indoor
	}
	out.Suggestions = slices.Clone(s.Suggestions)
	return out
}

// Model is a unidirectional state container for the main view. Every mutation goes through the
// model and is emitted to all observers.
type Model struct {
	engine    Engine
	places    search.Provider
	completer *search.Completer
	messages  Messages
	clock     clockwork.Clock
	logger    *logger.Logger
	group     singleflight.Group
	queries   chan string

	mu        sync.Mutex
	state     State
	noticeGen uint64
	observers map[uint64]func(State)
	nextID    uint64
}

func New(engine Engine, places search.Provider, messages Messages, log *logger.Logger, clock clockwork.Clock) *Model {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Model{
		engine:    engine,
		places:    places,
		completer: search.NewCompleter(places, log),
		messages:  messages,
		clock:     clock,
		logger:    log,
		queries:   make(chan string, queryBuffer),
		state:     State{HomeHours: ventilation.DefaultHomeHours},
		observers: make(map[uint64]func(State)),
	}
}

// State returns a copy of the current state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers an observer. It is called with the current state right away and after every
// mutation. The returned function unregisters it.
func (m *Model) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	state := m.state.clone()
	m.mu.Unlock()

	fn(state)
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Start loads the persisted state and refreshes the saved location. The refresh is subject to the
// cooldown, so a recent refresh by another surface is shown as is. Start also runs the place
// search stream until ctx is done.
func (m *Model) Start(ctx context.Context) error {
	loc, err := m.engine.SavedLocation(ctx)
	if err != nil {
		return fmt.Errorf("failed to load saved location: %w", err)
	}
	unit, err := m.engine.Unit(ctx)
	if err != nil {
		return fmt.Errorf("failed to load unit: %w", err)
	}
	home, err := m.engine.HomeHours(ctx)
	if err != nil {
		return fmt.Errorf("failed to load home hours: %w", err)
	}
	snap, err := m.engine.CurrentSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	m.update(func(s *State) {
		s.Location = loc
		s.Unit = unit
		s.HomeHours = home
		s.Snapshot = snap
		if snap != nil {
			cur := snap.Current
			s.Current = &cur
		}
	})

	go m.streamSuggestions(ctx)

	if loc != nil {
		_ = m.refresh(ctx, "startup", func(ctx context.Context) (*store.Snapshot, error) {
			return m.engine.Refresh(ctx, refresh.TriggerAutomatic)
		})
	}
	return nil
}

// Refresh is the user refresh intent. Concurrent calls join the refresh in flight.
func (m *Model) Refresh(ctx context.Context) error {
	return m.refresh(ctx, "refresh", func(ctx context.Context) (*store.Snapshot, error) {
		return m.engine.Refresh(ctx, refresh.TriggerUser)
	})
}

// SelectPlace resolves place, saves it as the location and refreshes it.
func (m *Model) SelectPlace(ctx context.Context, place search.Place) error {
	coords, err := m.places.Resolve(ctx, place)
	if err != nil {
		m.update(func(s *State) { s.Error = m.messages.Notice(err) })
		return err
	}
	loc := store.Location{Name: place.Title, Subtitle: place.Subtitle, Coordinate: coords}
	m.update(func(s *State) {
		s.Query = ""
		s.Suggestions = nil
	})
	return m.refresh(ctx, "select:"+coords.String(), func(ctx context.Context) (*store.Snapshot, error) {
		snap, err := m.engine.SelectLocation(ctx, loc)
		var persistErr *refresh.PersistError
		if err == nil || !errors.As(err, &persistErr) {
			m.update(func(s *State) { s.Location = &loc })
		}
		return snap, err
	})
}

func (m *Model) SetUnit(ctx context.Context, unit humidity.Unit) error {
	if err := m.engine.SetUnit(ctx, unit); err != nil {
		return err
	}
	m.update(func(s *State) {
		if s.Indoor != nil && s.Unit != unit {
			s.Indoor.Temperature = unit.FromCelsius(s.Unit.ToCelsius(s.Indoor.Temperature))
		}
		s.Unit = unit
	})
	return nil
}

// SetHomeHours stores the home hours. The ventilation window is recomputed on the next refresh.
func (m *Model) SetHomeHours(ctx context.Context, home ventilation.HomeHours) error {
	if err := m.engine.SetHomeHours(ctx, home); err != nil {
		return err
	}
	m.update(func(s *State) { s.HomeHours = home })
	return nil
}

// SetIndoor sets the indoor reading used for the ventilation advice. Invalid readings are
// rejected and leave the state unchanged.
func (m *Model) SetIndoor(temp, relativeHumidity float64) error {
	m.mu.Lock()
	unit := m.state.Unit
	m.mu.Unlock()
	if _, err := humidity.Indoor(temp, unit, relativeHumidity); err != nil {
		return err
	}
	m.update(func(s *State) {
		s.Indoor = &Indoor{Temperature: temp, RelativeHumidity: relativeHumidity}
	})
	return nil
}

// ClearIndoor removes the indoor reading.
func (m *Model) ClearIndoor() {
	m.update(func(s *State) { s.Indoor = nil })
}

// Search feeds a query into the suggestion stream. Results arrive as state updates.
func (m *Model) Search(query string) {
	m.update(func(s *State) { s.Query = query })
	select {
	case m.queries <- query:
	default:
		m.logger.Debug("dropping search query, stream is busy")
	}
}

func (m *Model) DismissNotice() {
	m.update(func(s *State) {
		m.noticeGen++
		s.Notice = ""
	})
}

// Follow applies snapshots published by other components until ctx is done.
func (m *Model) Follow(ctx context.Context, bus *statebus.Bus) {
	updates, unsub := bus.Subscribe(1)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.applySnapshot(update.Snapshot)
		}
	}
}

func (m *Model) refresh(ctx context.Context, key string, fn func(context.Context) (*store.Snapshot, error)) error {
	m.update(func(s *State) { s.Loading = true })
	result, err, _ := m.group.Do(key, func() (any, error) {
		return fn(ctx)
	})
	snap, _ := result.(*store.Snapshot)

	switch {
	case err == nil:
		m.update(func(s *State) {
			s.Loading = false
			s.Error = ""
		})
		m.applySnapshot(snap)
	case refresh.IsNotice(err):
		m.update(func(s *State) { s.Loading = false })
		m.showNotice(m.messages.Notice(err))
	default:
		m.update(func(s *State) {
			s.Loading = false
			s.Error = m.messages.Notice(err)
			s.Current = nil
		})
	}
	return err
}

func (m *Model) applySnapshot(snap *store.Snapshot) {
	if snap == nil {
		return
	}
	m.update(func(s *State) {
		if s.Snapshot != nil && s.Snapshot.ID == snap.ID && s.Current != nil {
			return
		}
		s.Snapshot = snap
		cur := snap.Current
		s.Current = &cur
	})
}

func (m *Model) showNotice(msg string) {
	var gen uint64
	m.update(func(s *State) {
		m.noticeGen++
		gen = m.noticeGen
		s.Notice = msg
	})
	m.clock.AfterFunc(NoticeTimeout, func() {
		m.update(func(s *State) {
			if m.noticeGen == gen {
				s.Notice = ""
			}
		})
	})
}

func (m *Model) streamSuggestions(ctx context.Context) {
	for suggestions := range m.completer.Stream(ctx, m.queries) {
		m.update(func(s *State) {
			if suggestions.Err != nil {
				s.Error = m.messages.Notice(suggestions.Err)
				return
			}
			s.Suggestions = suggestions.Places
		})
	}
}

// update applies fn to the state, derives the advice and notifies all observers.
func (m *Model) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	m.deriveAdvice()
	state := m.state.clone()
	observers := make([]func(State), 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.mu.Unlock()

	for _, obs := range observers {
		obs(state)
	}
}

// deriveAdvice recomputes the indoor values. The caller must hold the lock.
func (m *Model) deriveAdvice() {
	s := &m.state
	s.IndoorAbsolute.Reset()
	s.Advice = humidity.AdviceNone
	if s.Indoor != nil {
		abs, err := humidity.Indoor(s.Indoor.Temperature, s.Unit, s.Indoor.RelativeHumidity)
		if err == nil {
			s.IndoorAbsolute.Set(abs)
			if s.Current != nil {
				s.Advice = humidity.Compare(abs, s.Current.AbsoluteHumidity)
			}
		}
	}
	s.AdviceText = m.messages.Advice(s.Advice)
}
