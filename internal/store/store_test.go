// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/store/filekv"
	"github.com/wneessen/waybar-humidity/internal/store/memory"
	"github.com/wneessen/waybar-humidity/internal/vartype"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

func testStore(t *testing.T) (*Store, *memory.Memory) {
	t.Helper()
	backend := memory.New()
	return New(backend, logger.NewLogger(slog.LevelDebug, io.Discard)), backend
}

func testSnapshot(fetchedAt time.Time, rh float64) *Snapshot {
	snap := &Snapshot{
		Current: Current{
			Time:             fetchedAt,
			Temperature:      22.5,
			RelativeHumidity: rh,
			AbsoluteHumidity: humidity.AbsoluteHumidity(22.5, rh),
		},
		Hourly: []ventilation.HourlyPoint{
			{Time: fetchedAt, RelativeHumidity: rh},
			{Time: fetchedAt.Add(time.Hour), RelativeHumidity: rh - 5},
		},
		Window:    &ventilation.Window{Start: fetchedAt.Add(time.Hour), End: fetchedAt.Add(3 * time.Hour)},
		FetchedAt: fetchedAt,
	}
	snap.PredictedHumidity = vartype.NewVariable(rh - 5)
	return snap
}

func TestStore_Location(t *testing.T) {
	t.Run("unset location is nil", func(t *testing.T) {
		s, _ := testStore(t)
		loc, err := s.SavedLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to read location: %s", err)
		}
		if loc != nil {
			t.Errorf("expected no location, got %+v", loc)
		}
	})
	t.Run("saved location is returned", func(t *testing.T) {
		s, _ := testStore(t)
		want := Location{Name: "Köln", Subtitle: "Germany", Coordinate: weather.Coordinate{Lat: 50.94, Lon: 6.96}}
		if err := s.SaveLocation(t.Context(), want); err != nil {
			t.Fatalf("failed to save location: %s", err)
		}
		got, err := s.SavedLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to read location: %s", err)
		}
		if diff := cmp.Diff(&want, got); diff != "" {
			t.Errorf("location mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("invalid location is rejected", func(t *testing.T) {
		s, _ := testStore(t)
		tests := []Location{
			{Name: "", Coordinate: weather.Coordinate{Lat: 1, Lon: 1}},
			{Name: "Nowhere", Coordinate: weather.Coordinate{Lat: 91, Lon: 1}},
			{Name: "Nowhere", Coordinate: weather.Coordinate{Lat: 1, Lon: -181}},
		}
		for _, loc := range tests {
			if err := s.SaveLocation(t.Context(), loc); !errors.Is(err, ErrInvalidLocation) {
				t.Errorf("expected error to be %s for %+v, got %v", ErrInvalidLocation, loc, err)
			}
		}
	})
	t.Run("corrupt location is treated as unset", func(t *testing.T) {
		s, backend := testStore(t)
		_ = backend.Set(t.Context(), Namespace, map[string][]byte{KeyLocation: []byte("{broken")})
		loc, err := s.SavedLocation(t.Context())
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if loc != nil {
			t.Errorf("expected no location, got %+v", loc)
		}
	})
}

func TestStore_Unit(t *testing.T) {
	s, backend := testStore(t)
	unit, err := s.Unit(t.Context())
	if err != nil {
		t.Fatalf("failed to read unit: %s", err)
	}
	if unit != humidity.Celsius {
		t.Errorf("expected default unit celsius, got %s", unit)
	}
	if err = s.SetUnit(t.Context(), humidity.Fahrenheit); err != nil {
		t.Fatalf("failed to set unit: %s", err)
	}
	values, _ := backend.Get(t.Context(), Namespace, KeyUnit)
	if string(values[KeyUnit]) != `"fahrenheit"` {
		t.Errorf("expected unit to be stored as string, got %s", values[KeyUnit])
	}
	if unit, _ = s.Unit(t.Context()); unit != humidity.Fahrenheit {
		t.Errorf("expected unit fahrenheit, got %s", unit)
	}
	_ = backend.Set(t.Context(), Namespace, map[string][]byte{KeyUnit: []byte(`"kelvin"`)})
	if unit, _ = s.Unit(t.Context()); unit != humidity.Celsius {
		t.Errorf("expected unknown unit to fall back to celsius, got %s", unit)
	}
}

func TestStore_HomeHours(t *testing.T) {
	s, backend := testStore(t)
	home, err := s.HomeHours(t.Context())
	if err != nil {
		t.Fatalf("failed to read home hours: %s", err)
	}
	if home != ventilation.DefaultHomeHours {
		t.Errorf("expected default home hours, got %s", home)
	}
	want := ventilation.HomeHours{Start: ventilation.TimeOfDay{Hour: 6, Minute: 30}, End: ventilation.TimeOfDay{Hour: 22}}
	if err = s.SetHomeHours(t.Context(), want); err != nil {
		t.Fatalf("failed to set home hours: %s", err)
	}
	if home, _ = s.HomeHours(t.Context()); home != want {
		t.Errorf("expected %s, got %s", want, home)
	}
	invalid := ventilation.HomeHours{Start: ventilation.TimeOfDay{Hour: 25}}
	if err = s.SetHomeHours(t.Context(), invalid); !errors.Is(err, ventilation.ErrInvalidHomeHours) {
		t.Errorf("expected error to be %s, got %v", ventilation.ErrInvalidHomeHours, err)
	}
	_ = backend.Set(t.Context(), Namespace, map[string][]byte{KeyHomeHours: []byte(`{"start":{"hour":30}}`)})
	if home, _ = s.HomeHours(t.Context()); home != ventilation.DefaultHomeHours {
		t.Errorf("expected invalid stored home hours to fall back to default, got %s", home)
	}
}

func TestStore_Snapshot(t *testing.T) {
	fetchedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("no snapshot", func(t *testing.T) {
		s, _ := testStore(t)
		snap, err := s.Snapshot(t.Context())
		if err != nil {
			t.Fatalf("failed to read snapshot: %s", err)
		}
		if snap != nil {
			t.Errorf("expected no snapshot, got %+v", snap)
		}
		last, err := s.LastRefresh(t.Context())
		if err != nil {
			t.Fatalf("failed to read last refresh: %s", err)
		}
		if !last.IsZero() {
			t.Errorf("expected zero last refresh, got %s", last)
		}
	})
	t.Run("saved snapshot is returned", func(t *testing.T) {
		s, _ := testStore(t)
		want := testSnapshot(fetchedAt, 65)
		if err := s.SaveSnapshot(t.Context(), want); err != nil {
			t.Fatalf("failed to save snapshot: %s", err)
		}
		if want.Version != 1 {
			t.Errorf("expected version 1, got %d", want.Version)
		}
		got, err := s.Snapshot(t.Context())
		if err != nil {
			t.Fatalf("failed to read snapshot: %s", err)
		}
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(vartype.VarFloat64{})); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
		last, _ := s.LastRefresh(t.Context())
		if !last.Equal(fetchedAt) {
			t.Errorf("expected last refresh %s, got %s", fetchedAt, last)
		}
	})
	t.Run("version increments", func(t *testing.T) {
		s, _ := testStore(t)
		for i := 1; i <= 3; i++ {
			snap := testSnapshot(fetchedAt.Add(time.Duration(i)*time.Hour), 60)
			if err := s.SaveSnapshot(t.Context(), snap); err != nil {
				t.Fatalf("failed to save snapshot: %s", err)
			}
			if snap.Version != uint64(i) {
				t.Errorf("expected version %d, got %d", i, snap.Version)
			}
		}
	})
	t.Run("absent window and prediction", func(t *testing.T) {
		s, _ := testStore(t)
		snap := testSnapshot(fetchedAt, 65)
		snap.Window = nil
		snap.PredictedHumidity.Reset()
		if err := s.SaveSnapshot(t.Context(), snap); err != nil {
			t.Fatalf("failed to save snapshot: %s", err)
		}
		got, _ := s.Snapshot(t.Context())
		if got == nil {
			t.Fatal("expected a snapshot")
		}
		if got.Window != nil {
			t.Errorf("expected no window, got %+v", got.Window)
		}
		if got.PredictedHumidity.IsSet() {
			t.Errorf("expected no predicted humidity, got %s", got.PredictedHumidity)
		}
	})
	t.Run("mixed versions are treated as absent", func(t *testing.T) {
		s, backend := testStore(t)
		_ = s.SaveSnapshot(t.Context(), testSnapshot(fetchedAt, 65))
		first, _ := backend.Get(t.Context(), Namespace, KeySnapshotHourly)
		_ = s.SaveSnapshot(t.Context(), testSnapshot(fetchedAt.Add(time.Hour), 55))
		_ = backend.Set(t.Context(), Namespace, first)

		snap, err := s.Snapshot(t.Context())
		if err != nil {
			t.Fatalf("expected no error, got %s", err)
		}
		if snap != nil {
			t.Errorf("expected inconsistent snapshot to be absent, got version %d", snap.Version)
		}
	})
	t.Run("failing backend write leaves the snapshot intact", func(t *testing.T) {
		backend := &failingBackend{Memory: memory.New()}
		s := New(backend, logger.NewLogger(slog.LevelDebug, io.Discard))
		want := testSnapshot(fetchedAt, 65)
		_ = s.SaveSnapshot(t.Context(), want)
		backend.fail = true
		if err := s.SaveSnapshot(t.Context(), testSnapshot(fetchedAt.Add(time.Hour), 40)); err == nil {
			t.Fatal("expected save to fail")
		}
		backend.fail = false
		got, _ := s.Snapshot(t.Context())
		if got == nil || got.ID != want.ID {
			t.Errorf("expected previous snapshot to remain, got %+v", got)
		}
	})
	t.Run("failed precondition leaves the store unchanged", func(t *testing.T) {
		s, _ := testStore(t)
		if err := s.SaveSnapshot(t.Context(), testSnapshot(fetchedAt, 65)); err != nil {
			t.Fatalf("failed to save snapshot: %s", err)
		}
		before, _ := s.Snapshot(t.Context())

		wantErr := errors.New("refreshed too recently")
		var seen time.Time
		err := s.SaveSnapshotIf(t.Context(), testSnapshot(fetchedAt.Add(time.Minute), 40), func(last time.Time) error {
			seen = last
			return wantErr
		})
		if err != wantErr {
			t.Errorf("expected precondition error to be returned unchanged, got %v", err)
		}
		if !seen.Equal(fetchedAt) {
			t.Errorf("expected precondition to see last refresh %s, got %s", fetchedAt, seen)
		}
		after, _ := s.Snapshot(t.Context())
		if diff := cmp.Diff(before, after, cmp.AllowUnexported(vartype.VarFloat64{})); diff != "" {
			t.Errorf("snapshot changed (-before +after):\n%s", diff)
		}
	})
	t.Run("passing precondition saves", func(t *testing.T) {
		s, _ := testStore(t)
		snap := testSnapshot(fetchedAt, 65)
		err := s.SaveSnapshotIf(t.Context(), snap, func(last time.Time) error {
			if !last.IsZero() {
				t.Errorf("expected no last refresh, got %s", last)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("failed to save snapshot: %s", err)
		}
		if snap.Version != 1 {
			t.Errorf("expected version 1, got %d", snap.Version)
		}
	})
	t.Run("concurrent saves get distinct versions", func(t *testing.T) {
		s, _ := testStore(t)
		const writers = 16
		versions := make(chan uint64, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				snap := testSnapshot(fetchedAt, float64(40+i))
				if err := s.SaveSnapshot(context.Background(), snap); err != nil {
					t.Errorf("failed to save snapshot: %s", err)
					return
				}
				versions <- snap.Version
			}(i)
		}
		wg.Wait()
		close(versions)

		seen := make(map[uint64]bool, writers)
		for version := range versions {
			if seen[version] {
				t.Errorf("version %d was assigned twice", version)
			}
			seen[version] = true
		}
		snap, _ := s.Snapshot(t.Context())
		if snap == nil || snap.Version != writers {
			t.Errorf("expected latest snapshot version %d, got %+v", writers, snap)
		}
	})
}

func TestStore_CorruptFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to write store file: %s", err)
	}
	s, err := Open(t.Context(), Options{Backend: BackendFile, Path: path}, logger.NewLogger(slog.LevelDebug, io.Discard))
	if err != nil {
		t.Fatalf("failed to open store: %s", err)
	}

	if unit, err := s.Unit(t.Context()); err != nil || unit != humidity.Celsius {
		t.Errorf("expected default unit, got %s (error: %v)", unit, err)
	}
	if home, err := s.HomeHours(t.Context()); err != nil || home != ventilation.DefaultHomeHours {
		t.Errorf("expected default home hours, got %s (error: %v)", home, err)
	}
	if snap, err := s.Snapshot(t.Context()); err != nil || snap != nil {
		t.Errorf("expected no snapshot, got %+v (error: %v)", snap, err)
	}

	want := testSnapshot(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 65)
	if err = s.SaveSnapshot(t.Context(), want); err != nil {
		t.Fatalf("expected save to repair the store, got %s", err)
	}
	got, err := s.Snapshot(t.Context())
	if err != nil || got == nil || got.ID != want.ID {
		t.Errorf("expected saved snapshot, got %+v (error: %v)", got, err)
	}
}

func TestStore_FileBackendConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	fetchedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			backend, err := filekv.New(path)
			if err != nil {
				t.Errorf("failed to open backend: %s", err)
				return
			}
			s := New(backend, log)
			if err = s.SaveSnapshot(context.Background(), testSnapshot(fetchedAt, float64(40+i))); err != nil {
				t.Errorf("failed to save snapshot: %s", err)
			}
		}(i)
	}
	wg.Wait()

	backend, err := filekv.New(path)
	if err != nil {
		t.Fatalf("failed to open backend: %s", err)
	}
	snap, err := New(backend, log).Snapshot(t.Context())
	if err != nil {
		t.Fatalf("failed to read snapshot: %s", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.Hourly[0].RelativeHumidity != snap.Current.RelativeHumidity {
		t.Errorf("expected hourly series and current conditions of the same refresh, got %s and %s",
			strconv.FormatFloat(snap.Hourly[0].RelativeHumidity, 'f', 1, 64),
			strconv.FormatFloat(snap.Current.RelativeHumidity, 'f', 1, 64))
	}
}

func TestOpen(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	t.Run("memory backend", func(t *testing.T) {
		s, err := Open(t.Context(), Options{Backend: BackendMemory}, log)
		if err != nil {
			t.Fatalf("failed to open store: %s", err)
		}
		_ = s.Close()
	})
	t.Run("file backend", func(t *testing.T) {
		s, err := Open(t.Context(), Options{Backend: BackendFile, Path: filepath.Join(t.TempDir(), "s.json")}, log)
		if err != nil {
			t.Fatalf("failed to open store: %s", err)
		}
		_ = s.Close()
	})
	t.Run("unknown backend", func(t *testing.T) {
		if _, err := Open(t.Context(), Options{Backend: "redis"}, log); err == nil {
			t.Error("expected open to fail")
		}
	})
	t.Run("configured default home hours apply until home hours are stored", func(t *testing.T) {
		want := ventilation.HomeHours{
			Start: ventilation.TimeOfDay{Hour: 6},
			End:   ventilation.TimeOfDay{Hour: 22},
		}
		s, err := Open(t.Context(), Options{Backend: BackendMemory, DefaultHomeHours: &want}, log)
		if err != nil {
			t.Fatalf("failed to open store: %s", err)
		}
		got, err := s.HomeHours(t.Context())
		if err != nil {
			t.Fatalf("failed to read home hours: %s", err)
		}
		if got != want {
			t.Errorf("expected home hours %s, got %s", want, got)
		}
	})
	t.Run("invalid default home hours fail", func(t *testing.T) {
		invalid := ventilation.HomeHours{Start: ventilation.TimeOfDay{Hour: 25}}
		if _, err := Open(t.Context(), Options{Backend: BackendMemory, DefaultHomeHours: &invalid}, log); err == nil {
			t.Error("expected open to fail")
		}
	})
}

type failingBackend struct {
	*memory.Memory
	fail bool
}

func (f *failingBackend) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	if f.fail {
		return errors.New("intentionally failing")
	}
	return f.Memory.Set(ctx, namespace, values)
}

func (f *failingBackend) Update(ctx context.Context, namespace string, keys []string,
	fn func(map[string][]byte) (map[string][]byte, error),
) error {
	if f.fail {
		return errors.New("intentionally failing")
	}
	return f.Memory.Update(ctx, namespace, keys, fn)
}
