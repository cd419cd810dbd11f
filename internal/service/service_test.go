// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"testing/synctest"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/language"

	"github.com/wneessen/waybar-humidity/internal/config"
	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/i18n"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/presenter"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		serv, _, _ := testService(t, &mockEngine{}, presenter.WidgetCurrent)
		if serv == nil {
			t.Fatal("expected service to be non-nil")
		}
	})
	t.Run("nil logger fails", func(t *testing.T) {
		conf, pres := testConfPresenter(t)
		if _, err := New(conf, &mockEngine{}, pres, presenter.WidgetCurrent, nil); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
	t.Run("nil engine fails", func(t *testing.T) {
		conf, pres := testConfPresenter(t)
		log := logger.NewLogger(slog.LevelDebug, &syncBuffer{})
		if _, err := New(conf, nil, pres, presenter.WidgetCurrent, log); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
	t.Run("nil presenter fails", func(t *testing.T) {
		conf, _ := testConfPresenter(t)
		log := logger.NewLogger(slog.LevelDebug, &syncBuffer{})
		if _, err := New(conf, &mockEngine{}, nil, presenter.WidgetCurrent, log); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("refreshes, prints and shuts down gracefully", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			engine := &mockEngine{loc: &testLocation}
			serv, out, _ := testService(t, engine, presenter.WidgetCurrent)
			serv.SignalSrc = &mockSignalSource{}
			serv.resumeMonitor = func(context.Context) {}

			done := make(chan error, 1)
			go func() {
				done <- serv.Run(ctx)
			}()
			synctest.Wait()

			if got := engine.triggered(); len(got) != 1 || got[0] != refresh.TriggerAutomatic {
				t.Errorf("expected one automatic refresh on start, got %v", got)
			}
			lines := out.lines()
			if len(lines) != 1 {
				t.Fatalf("expected one output line, got %d", len(lines))
			}
			if !strings.Contains(lines[0].Text, "65%") {
				t.Errorf("expected text to contain the relative humidity, got %q", lines[0].Text)
			}

			cancel()
			synctest.Wait()
			if err := <-done; err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("output job prints on its interval", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			serv, out, _ := testService(t, &mockEngine{loc: &testLocation}, presenter.WidgetCurrent)
			serv.SignalSrc = &mockSignalSource{}
			serv.resumeMonitor = func(context.Context) {}
			go func() {
				_ = serv.Run(ctx)
			}()
			synctest.Wait()
			time.Sleep(serv.config.Intervals.Output + time.Second)
			synctest.Wait()
			if got := len(out.lines()); got < 2 {
				t.Errorf("expected at least 2 output lines, got %d", got)
			}
			cancel()
			synctest.Wait()
		})
	})
	t.Run("invalid interval fails", func(t *testing.T) {
		serv, _, _ := testService(t, &mockEngine{}, presenter.WidgetCurrent)
		serv.config.Intervals.AutoRefresh = 0
		if err := serv.Run(t.Context()); err == nil {
			t.Fatal("expected service to fail")
		}
	})
}

func TestService_printOutput(t *testing.T) {
	t.Run("no data yet", func(t *testing.T) {
		serv, out, _ := testService(t, &mockEngine{}, presenter.WidgetCurrent)
		serv.printOutput(t.Context())
		lines := out.lines()
		if len(lines) != 1 {
			t.Fatalf("expected one output line, got %d", len(lines))
		}
		if !strings.HasSuffix(lines[0].Text, "--") {
			t.Errorf("expected placeholder text, got %q", lines[0].Text)
		}
		if !strings.Contains(strings.Join(lines[0].Class, " "), "nodata") {
			t.Errorf("expected nodata class, got %v", lines[0].Class)
		}
	})
	t.Run("current widget", func(t *testing.T) {
		engine := &mockEngine{loc: &testLocation, snap: testSnapshot()}
		serv, out, _ := testService(t, engine, presenter.WidgetCurrent)
		serv.printOutput(t.Context())
		lines := out.lines()
		if len(lines) != 1 {
			t.Fatalf("expected one output line, got %d", len(lines))
		}
		if lines[0].Text != "💦 65%" {
			t.Errorf("expected text %q, got %q", "💦 65%", lines[0].Text)
		}
		wantClass := []string{presenter.OutputClass, "current", "humid"}
		if strings.Join(lines[0].Class, ",") != strings.Join(wantClass, ",") {
			t.Errorf("expected class %v, got %v", wantClass, lines[0].Class)
		}
	})
	t.Run("ventilation widget", func(t *testing.T) {
		engine := &mockEngine{loc: &testLocation, snap: testSnapshot()}
		serv, out, _ := testService(t, engine, presenter.WidgetVentilation)
		serv.printOutput(t.Context())
		lines := out.lines()
		if len(lines) != 1 {
			t.Fatalf("expected one output line, got %d", len(lines))
		}
		if !strings.HasPrefix(lines[0].Text, presenter.VentilationIcon) {
			t.Errorf("expected ventilation icon, got %q", lines[0].Text)
		}
	})
	t.Run("store read failure is logged", func(t *testing.T) {
		engine := &mockEngine{readErr: errors.New("store is gone")}
		serv, out, logs := testService(t, engine, presenter.WidgetCurrent)
		serv.printOutput(t.Context())
		if len(out.lines()) != 0 {
			t.Error("expected no output")
		}
		if !strings.Contains(logs.String(), "failed to render output") {
			t.Errorf("expected render failure to be logged, got %q", logs.String())
		}
	})
	t.Run("write failure is logged", func(t *testing.T) {
		serv, _, logs := testService(t, &mockEngine{}, presenter.WidgetCurrent)
		serv.output = failWriter{}
		serv.printOutput(t.Context())
		if !strings.Contains(logs.String(), "failed to encode output") {
			t.Errorf("expected write failure to be logged, got %q", logs.String())
		}
	})
}

func TestService_refresh(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{"success", nil, "level=DEBUG msg=\"refresh completed\""},
		{"cooldown", &refresh.CooldownActiveError{Remaining: time.Second}, "level=DEBUG msg=\"refresh skipped\""},
		{"rate limited", &refresh.RateLimitedError{RetryAfter: time.Minute}, "level=DEBUG msg=\"refresh skipped\""},
		{"no location", refresh.ErrNoLocation, "level=DEBUG msg=\"refresh skipped\""},
		{"upstream", &refresh.UpstreamError{Cause: errors.New("boom")}, "level=ERROR msg=\"refresh failed\""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			serv, _, logs := testService(t, &mockEngine{loc: &testLocation, refreshErr: tc.err}, presenter.WidgetCurrent)
			serv.refresh(t.Context(), refresh.TriggerUser)
			if !strings.Contains(logs.String(), tc.wantLog) {
				t.Errorf("expected log to contain %q, got %q", tc.wantLog, logs.String())
			}
		})
	}
}

func TestService_HandleSignals(t *testing.T) {
	t.Run("USR1 refreshes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		engine := &mockEngine{loc: &testLocation}
		serv, out, _ := testService(t, engine, presenter.WidgetCurrent)
		sigChan := make(chan os.Signal, 1)
		go serv.HandleSignals(ctx, sigChan)

		sigChan <- syscall.SIGUSR1
		waitFor(t, func() bool { return len(out.lines()) == 1 })
		if got := engine.triggered(); len(got) != 1 || got[0] != refresh.TriggerUser {
			t.Errorf("expected one user refresh, got %v", got)
		}
	})
	t.Run("USR2 toggles the alt text", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		engine := &mockEngine{loc: &testLocation, snap: testSnapshot()}
		serv, out, _ := testService(t, engine, presenter.WidgetCurrent)
		sigChan := make(chan os.Signal, 1)
		go serv.HandleSignals(ctx, sigChan)

		sigChan <- syscall.SIGUSR2
		waitFor(t, func() bool { return len(out.lines()) == 1 })
		serv.displayAltLock.RLock()
		alt := serv.displayAltText
		serv.displayAltLock.RUnlock()
		if !alt {
			t.Error("expected alt mode to be enabled")
		}
		if text := out.lines()[0].Text; !strings.Contains(text, "g/m³") {
			t.Errorf("expected alt text with absolute humidity, got %q", text)
		}
		if len(engine.triggered()) != 0 {
			t.Error("expected no refresh on USR2")
		}
	})
}

func TestIsResume(t *testing.T) {
	tests := []struct {
		name string
		sig  *dbus.Signal
		want bool
	}{
		{"resume", &dbus.Signal{Body: []any{false}}, true},
		{"going to sleep", &dbus.Signal{Body: []any{true}}, false},
		{"empty body", &dbus.Signal{}, false},
		{"wrong type", &dbus.Signal{Body: []any{"false"}}, false},
		{"nil signal", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isResume(tc.sig); got != tc.want {
				t.Errorf("expected %t, got %t", tc.want, got)
			}
		})
	}
}

func TestService_handleResumeEvent(t *testing.T) {
	t.Run("refreshes after the network delay", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		engine := &mockEngine{loc: &testLocation}
		serv, _, _ := testService(t, engine, presenter.WidgetCurrent)
		clock := clockwork.NewFakeClock()
		serv.clock = clock

		var lastResume atomic.Int64
		done := make(chan struct{})
		go func() {
			serv.handleResumeEvent(ctx, &lastResume)
			close(done)
		}()
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("resume handler did not wait: %s", err)
		}
		if len(engine.triggered()) != 0 {
			t.Error("expected no refresh before the network delay")
		}
		clock.Advance(networkWakeupDelay)
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("resume handler did not finish")
		}
		if got := engine.triggered(); len(got) != 1 || got[0] != refresh.TriggerResume {
			t.Errorf("expected one resume refresh, got %v", got)
		}
	})
	t.Run("consecutive resume events are debounced", func(t *testing.T) {
		engine := &mockEngine{loc: &testLocation}
		serv, _, _ := testService(t, engine, presenter.WidgetCurrent)
		clock := clockwork.NewFakeClock()
		serv.clock = clock

		var lastResume atomic.Int64
		lastResume.Store(clock.Now().Add(-time.Second).UnixNano())
		serv.handleResumeEvent(t.Context(), &lastResume)
		if len(engine.triggered()) != 0 {
			t.Error("expected debounced resume event to be ignored")
		}
	})
}

func TestNewWeatherProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"open-meteo", false},
		{"open-meteo-sdk", false},
		{"invalid", true},
	}
	for _, tc := range tests {
		t.Run(tc.provider, func(t *testing.T) {
			conf, _ := testConfPresenter(t)
			conf.Weather.Provider = tc.provider
			provider, err := NewWeatherProvider(conf, logger.NewLogger(slog.LevelDebug, &syncBuffer{}))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected provider selection to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to select weather provider: %s", err)
			}
			if provider == nil {
				t.Fatal("expected provider to be non-nil")
			}
		})
	}
}

func TestNewSearchProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		apikey   string
		wantName string
		wantErr  bool
	}{
		{"nominatim", "osm-nominatim", "", "search cache using osm-nominatim", false},
		{"geocode.earth without api-key", "geocode-earth", "", "", true},
		{"geocode.earth with api-key", "geocode-earth", "abc", "search cache using geocode-earth", false},
		{"opencage without api-key", "opencage", "", "", true},
		{"opencage with api-key", "opencage", "abc", "search cache using opencage", false},
		{"unsupported provider", "invalid", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf, _ := testConfPresenter(t)
			conf.Search.Provider = tc.provider
			conf.Search.APIKey = tc.apikey
			provider, err := NewSearchProvider(conf, logger.NewLogger(slog.LevelDebug, &syncBuffer{}), language.English)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected provider selection to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to select search provider: %s", err)
			}
			if provider.Name() != tc.wantName {
				t.Errorf("expected provider name %q, got %q", tc.wantName, provider.Name())
			}
		})
	}
}

func TestNewEngine(t *testing.T) {
	conf, _ := testConfPresenter(t)
	conf.Store.Backend = store.BackendMemory
	log := logger.NewLogger(slog.LevelDebug, &syncBuffer{})
	st, err := OpenStore(t.Context(), conf, log)
	if err != nil {
		t.Fatalf("failed to open store: %s", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	engine, err := NewEngine(conf, st, log, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %s", err)
	}
	if _, err = engine.Refresh(t.Context(), refresh.TriggerUser); !errors.Is(err, refresh.ErrNoLocation) {
		t.Errorf("expected ErrNoLocation without a saved location, got %v", err)
	}

	conf.Weather.Provider = "invalid"
	if _, err = NewEngine(conf, st, log, nil); err == nil {
		t.Error("expected engine creation to fail with an invalid provider")
	}
}

var testLocation = store.Location{
	Name:       "Berlin",
	Subtitle:   "Germany",
	Coordinate: weather.Coordinate{Lat: 52.52, Lon: 13.405},
}

func testSnapshot() *store.Snapshot {
	now := time.Now()
	return &store.Snapshot{
		ID: uuid.New(),
		Current: store.Current{
			Time:             now,
			Temperature:      22.5,
			RelativeHumidity: 65,
			AbsoluteHumidity: 12.98,
		},
		Window: &ventilation.Window{
			Start: now.Add(time.Hour).Truncate(time.Hour),
			End:   now.Add(3 * time.Hour).Truncate(time.Hour),
		},
		FetchedAt: now,
	}
}

func testConfPresenter(t *testing.T) (*config.Config, *presenter.Presenter) {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to create config: %s", err)
	}
	lang, err := i18n.New("en")
	if err != nil {
		t.Fatalf("failed to create i18n provider: %s", err)
	}
	pres, err := presenter.New(conf, lang)
	if err != nil {
		t.Fatalf("failed to create presenter: %s", err)
	}
	return conf, pres
}

func testService(t *testing.T, engine Refresher, widget presenter.Widget) (*Service, *outputBuffer, *syncBuffer) {
	t.Helper()
	conf, pres := testConfPresenter(t)
	logs := &syncBuffer{}
	serv, err := New(conf, engine, pres, widget, logger.NewLogger(slog.LevelDebug, logs))
	if err != nil {
		t.Fatalf("failed to create service: %s", err)
	}
	out := &outputBuffer{}
	serv.output = out
	return serv, out, logs
}

type (
	mockEngine struct {
		mu         sync.Mutex
		loc        *store.Location
		snap       *store.Snapshot
		refreshErr error
		readErr    error
		triggers   []refresh.Trigger
	}
	mockSignalSource struct{}
	failWriter       struct{}
	syncBuffer       struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
	outputBuffer struct {
		syncBuffer
	}
)

func (m *mockEngine) Refresh(_ context.Context, trigger refresh.Trigger) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, trigger)
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	if m.loc == nil {
		return nil, refresh.ErrNoLocation
	}
	m.snap = testSnapshot()
	return m.snap, nil
}

func (m *mockEngine) CurrentSnapshot(context.Context) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.readErr
}

func (m *mockEngine) SavedLocation(context.Context) (*store.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loc, m.readErr
}

func (m *mockEngine) Unit(context.Context) (humidity.Unit, error) { return humidity.Celsius, nil }

func (m *mockEngine) HomeHours(context.Context) (ventilation.HomeHours, error) {
	return ventilation.DefaultHomeHours, nil
}

func (m *mockEngine) triggered() []refresh.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]refresh.Trigger(nil), m.triggers...)
}

func (*mockSignalSource) Notify(chan<- os.Signal, ...os.Signal) {}
func (*mockSignalSource) Stop(chan<- os.Signal)                 {}

func (failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("failed to write") }

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (o *outputBuffer) lines() []presenter.Output {
	var lines []presenter.Output
	for _, line := range strings.Split(strings.TrimSpace(o.String()), "\n") {
		if line == "" {
			continue
		}
		var out presenter.Output
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			continue
		}
		lines = append(lines, out)
	}
	return lines
}
