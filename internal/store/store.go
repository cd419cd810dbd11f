// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package store implements the persisted state shared by every waybar-humidity process on a device.
// Values are JSON encoded and kept in a namespaced key/value Backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/vartype"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

// Namespace is the namespace all keys of the Store live in.
const Namespace = "humidity"

const (
	KeyLocation          = "location"
	KeyUnit              = "unit"
	KeyHomeHours         = "home_hours"
	KeyLastRefresh       = "last_refresh"
	KeySnapshotVersion   = "snapshot.version"
	KeySnapshotID        = "snapshot.id"
	KeySnapshotCurrent   = "snapshot.current"
	KeySnapshotHourly    = "snapshot.hourly"
	KeySnapshotWindow    = "snapshot.window"
	KeySnapshotPredicted = "snapshot.predicted"
	KeySnapshotFetchedAt = "snapshot.fetched_at"
)

var snapshotKeys = []string{
	KeySnapshotVersion, KeySnapshotID, KeySnapshotCurrent, KeySnapshotHourly, KeySnapshotWindow,
	KeySnapshotPredicted, KeySnapshotFetchedAt,
}

var ErrInvalidLocation = errors.New("invalid location")

// Backend is a namespaced key/value storage. Get must return a consistent view of all requested
// keys and Set must write all given values or none of them. Update reads keys and writes the values
// returned by fn as one step that no other writer, in this or another process, can interleave with.
type Backend interface {
	Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, namespace string, values map[string][]byte) error
	Update(ctx context.Context, namespace string, keys []string,
		fn func(current map[string][]byte) (map[string][]byte, error)) error
	Close() error
}

// DecodeError is returned when a persisted value cannot be decoded.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode stored value %q: %s", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Location is a place selected by the user.
type Location struct {
	Name       string             `json:"name" validate:"required"`
	Subtitle   string             `json:"subtitle,omitempty"`
	Coordinate weather.Coordinate `json:"coordinate"`
}

// Current holds the current conditions of a snapshot. Temperatures are in Celsius, the relative
// humidity is a percentage and the absolute humidity is in g/m³.
type Current struct {
	Time                time.Time `json:"time"`
	Temperature         float64   `json:"temperature"`
	ApparentTemperature float64   `json:"apparent_temperature"`
	DewPoint            float64   `json:"dew_point"`
	RelativeHumidity    float64   `json:"relative_humidity"`
	AbsoluteHumidity    float64   `json:"absolute_humidity"`
}

// Snapshot is the result of one successful refresh. It is always replaced as a whole.
type Snapshot struct {
	Version           uint64                    `json:"version"`
	ID                uuid.UUID                 `json:"id"`
	Current           Current                   `json:"current"`
	Hourly            []ventilation.HourlyPoint `json:"hourly"`
	Window            *ventilation.Window       `json:"window,omitempty"`
	PredictedHumidity vartype.VarFloat64        `json:"predicted_humidity"`
	FetchedAt         time.Time                 `json:"fetched_at"`
}

// record wraps a snapshot field with the version of the snapshot it belongs to.
type record struct {
	Version uint64          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// Store is the typed access layer on top of a Backend.
type Store struct {
	backend     Backend
	log         *logger.Logger
	validate    *validator.Validate
	defaultHome ventilation.HomeHours
}

func New(backend Backend, log *logger.Logger) *Store {
	return &Store{
		backend:     backend,
		log:         log,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		defaultHome: ventilation.DefaultHomeHours,
	}
}

// SetDefaultHomeHours sets the home hours returned while none are stored.
func (s *Store) SetDefaultHomeHours(home ventilation.HomeHours) error {
	if err := home.Validate(); err != nil {
		return err
	}
	s.defaultHome = home
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// SavedLocation returns the saved location or nil if none was saved.
func (s *Store) SavedLocation(ctx context.Context) (*Location, error) {
	loc := new(Location)
	ok, err := s.getValue(ctx, KeyLocation, loc)
	if err != nil || !ok {
		return nil, err
	}
	if err = s.validate.Struct(loc); err != nil {
		s.log.Debug("ignoring invalid stored location", logger.Err(err))
		return nil, nil
	}
	return loc, nil
}

func (s *Store) SaveLocation(ctx context.Context, loc Location) error {
	if err := s.validate.Struct(loc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	return s.setValue(ctx, KeyLocation, loc)
}

// Unit returns the stored unit preference. It defaults to Celsius.
func (s *Store) Unit(ctx context.Context) (humidity.Unit, error) {
	unit := humidity.Celsius
	if _, err := s.getValue(ctx, KeyUnit, &unit); err != nil {
		return humidity.Celsius, err
	}
	return unit, nil
}

func (s *Store) SetUnit(ctx context.Context, unit humidity.Unit) error {
	return s.setValue(ctx, KeyUnit, unit)
}

// HomeHours returns the stored home hours or the default home hours.
func (s *Store) HomeHours(ctx context.Context) (ventilation.HomeHours, error) {
	home := s.defaultHome
	ok, err := s.getValue(ctx, KeyHomeHours, &home)
	if err != nil {
		return s.defaultHome, err
	}
	if !ok {
		return s.defaultHome, nil
	}
	if err = home.Validate(); err != nil {
		s.log.Debug("ignoring invalid stored home hours", logger.Err(err))
		return s.defaultHome, nil
	}
	return home, nil
}

func (s *Store) SetHomeHours(ctx context.Context, home ventilation.HomeHours) error {
	if err := home.Validate(); err != nil {
		return err
	}
	return s.setValue(ctx, KeyHomeHours, home)
}

// LastRefresh returns the time of the last successful refresh or the zero time.
func (s *Store) LastRefresh(ctx context.Context) (time.Time, error) {
	var last time.Time
	if _, err := s.getValue(ctx, KeyLastRefresh, &last); err != nil {
		return time.Time{}, err
	}
	return last, nil
}

// Snapshot returns the latest persisted snapshot or nil if there is none. A snapshot whose fields
// do not all carry the same version is treated as absent.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	values, err := s.backend.Get(ctx, Namespace, snapshotKeys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	rawVersion, ok := values[KeySnapshotVersion]
	if !ok {
		return nil, nil
	}
	version, err := strconv.ParseUint(string(rawVersion), 10, 64)
	if err != nil {
		s.log.Debug("ignoring snapshot", logger.Err(&DecodeError{Key: KeySnapshotVersion, Err: err}))
		return nil, nil
	}

	snap := &Snapshot{Version: version}
	fields := map[string]any{
		KeySnapshotID:        &snap.ID,
		KeySnapshotCurrent:   &snap.Current,
		KeySnapshotHourly:    &snap.Hourly,
		KeySnapshotWindow:    &snap.Window,
		KeySnapshotPredicted: &snap.PredictedHumidity,
		KeySnapshotFetchedAt: &snap.FetchedAt,
	}
	for key, target := range fields {
		if err = decodeRecord(key, values[key], version, target); err != nil {
			s.log.Debug("ignoring inconsistent snapshot", logger.Err(err))
			return nil, nil
		}
	}
	return snap, nil
}

// SaveSnapshot persists all fields of the snapshot together with the last refresh time in a single
// write. The snapshot version is incremented and assigned to snap.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return s.SaveSnapshotIf(ctx, snap, nil)
}

// SaveSnapshotIf works like SaveSnapshot, but first passes the stored last refresh time to check.
// The check runs under the backend's write lock, so a refresh persisted by another process in the
// meantime is seen. If check fails nothing is written and its error is returned unchanged.
func (s *Store) SaveSnapshotIf(ctx context.Context, snap *Snapshot, check func(lastRefresh time.Time) error) error {
	if snap == nil {
		return errors.New("snapshot must not be nil")
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	lastRefresh, err := json.Marshal(snap.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", KeyLastRefresh, err)
	}

	var version uint64
	var checkErr error
	err = s.backend.Update(ctx, Namespace, []string{KeySnapshotVersion, KeyLastRefresh},
		func(current map[string][]byte) (map[string][]byte, error) {
			if check != nil {
				var last time.Time
				if raw, ok := current[KeyLastRefresh]; ok {
					if err := json.Unmarshal(raw, &last); err != nil {
						s.log.Debug("ignoring stored value", logger.Err(&DecodeError{Key: KeyLastRefresh, Err: err}))
						last = time.Time{}
					}
				}
				if checkErr = check(last); checkErr != nil {
					return nil, checkErr
				}
			}

			version = 0
			if raw, ok := current[KeySnapshotVersion]; ok {
				// a corrupt version restarts the sequence
				version, _ = strconv.ParseUint(string(raw), 10, 64)
			}
			version++
			return snapshotValues(snap, version, lastRefresh)
		})
	if checkErr != nil {
		return checkErr
	}
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	snap.Version = version
	return nil
}

func snapshotValues(snap *Snapshot, version uint64, lastRefresh []byte) (map[string][]byte, error) {
	write := map[string][]byte{
		KeySnapshotVersion: []byte(strconv.FormatUint(version, 10)),
		KeyLastRefresh:     lastRefresh,
	}
	fields := map[string]any{
		KeySnapshotID:        snap.ID,
		KeySnapshotCurrent:   snap.Current,
		KeySnapshotHourly:    snap.Hourly,
		KeySnapshotWindow:    snap.Window,
		KeySnapshotPredicted: snap.PredictedHumidity,
		KeySnapshotFetchedAt: snap.FetchedAt,
	}
	var err error
	for key, value := range fields {
		if write[key], err = encodeRecord(version, value); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", key, err)
		}
	}
	return write, nil
}

// getValue decodes the stored value of key into target. Undecodable values are logged and
// reported as not set.
func (s *Store) getValue(ctx context.Context, key string, target any) (bool, error) {
	values, err := s.backend.Get(ctx, Namespace, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err = json.Unmarshal(raw, target); err != nil {
		s.log.Debug("ignoring stored value", logger.Err(&DecodeError{Key: key, Err: err}))
		return false, nil
	}
	return true, nil
}

func (s *Store) setValue(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err = s.backend.Set(ctx, Namespace, map[string][]byte{key: data}); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func encodeRecord(version uint64, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{Version: version, Value: data})
}

func decodeRecord(key string, raw []byte, version uint64, target any) error {
	if raw == nil {
		return &DecodeError{Key: key, Err: errors.New("missing value")}
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	if rec.Version != version {
		return &DecodeError{Key: key, Err: fmt.Errorf("version %d does not match snapshot version %d",
			rec.Version, version)}
	}
	if err := json.Unmarshal(rec.Value, target); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	return nil
}
