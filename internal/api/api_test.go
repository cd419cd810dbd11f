// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/search"
	"github.com/wneessen/waybar-humidity/internal/store"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/viewmodel"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const testOrigin = "http://localhost:5173"

type mockEngine struct {
	mu   sync.Mutex
	loc  *store.Location
	unit humidity.Unit
	home ventilation.HomeHours
	snap *store.Snapshot
	err  error
}

func (m *mockEngine) CurrentSnapshot(context.Context) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *mockEngine) Refresh(context.Context, refresh.Trigger) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.snap = &store.Snapshot{
		ID:      uuid.New(),
		Current: store.Current{Temperature: 12, RelativeHumidity: 80, AbsoluteHumidity: 8.5},
	}
	return m.snap, nil
}

func (m *mockEngine) SelectLocation(ctx context.Context, loc store.Location) (*store.Snapshot, error) {
	m.mu.Lock()
	m.loc = &loc
	m.mu.Unlock()
	return m.Refresh(ctx, refresh.TriggerLocationChange)
}

func (m *mockEngine) SavedLocation(context.Context) (*store.Location, error) { return m.loc, nil }

func (m *mockEngine) Unit(context.Context) (humidity.Unit, error) { return m.unit, nil }

func (m *mockEngine) SetUnit(_ context.Context, unit humidity.Unit) error {
	m.unit = unit
	return nil
}

func (m *mockEngine) HomeHours(context.Context) (ventilation.HomeHours, error) { return m.home, nil }

func (m *mockEngine) SetHomeHours(_ context.Context, home ventilation.HomeHours) error {
	if err := home.Validate(); err != nil {
		return err
	}
	m.home = home
	return nil
}

type mockPlaces struct{}

func (mockPlaces) Name() string { return "mock" }

func (mockPlaces) Complete(_ context.Context, query string) ([]search.Place, error) {
	return []search.Place{{ID: "1", Title: query}}, nil
}

func (mockPlaces) Resolve(_ context.Context, place search.Place) (weather.Coordinate, error) {
	if place.Coordinate != nil {
		return *place.Coordinate, nil
	}
	if place.ID == "unknown" {
		return weather.Coordinate{}, search.ErrNotFound
	}
	return weather.Coordinate{Lat: 52.52, Lon: 13.405}, nil
}

type plainMessages struct{}

func (plainMessages) Notice(err error) string               { return err.Error() }
func (plainMessages) Advice(advice humidity.Advice) string { return advice.String() }

func testServer(t *testing.T, engine *mockEngine) *httptest.Server {
	t.Helper()
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	model := viewmodel.New(engine, mockPlaces{}, plainMessages{}, log, nil)
	srv := httptest.NewServer(New(model, plainMessages{}, log, []string{testOrigin}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %s", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %s", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %s", err)
	}
	return resp, data
}

func decodeState(t *testing.T, data []byte) viewmodel.State {
	t.Helper()
	var state viewmodel.State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("failed to decode state: %s", err)
	}
	return state
}

func TestServer_Health(t *testing.T) {
	srv := testServer(t, &mockEngine{})
	resp, _ := do(t, srv, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", resp.StatusCode)
	}
}

func TestServer_State(t *testing.T) {
	srv := testServer(t, &mockEngine{})
	resp, data := do(t, srv, http.MethodGet, "/api/v1/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	state := decodeState(t, data)
	if state.Unit != humidity.Celsius {
		t.Errorf("expected celsius, got %s", state.Unit)
	}
}

func TestServer_Refresh(t *testing.T) {
	t.Run("returns the refreshed state", func(t *testing.T) {
		srv := testServer(t, &mockEngine{})
		resp, data := do(t, srv, http.MethodPost, "/api/v1/refresh", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}
		state := decodeState(t, data)
		if state.Current == nil || state.Current.AbsoluteHumidity != 8.5 {
			t.Errorf("expected current conditions, got %+v", state.Current)
		}
	})
	t.Run("cooldown is reported with retry-after", func(t *testing.T) {
		srv := testServer(t, &mockEngine{err: &refresh.CooldownActiveError{Remaining: 19500 * time.Millisecond}})
		resp, data := do(t, srv, http.MethodPost, "/api/v1/refresh", "")
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("expected status 429, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Retry-After"); got != "20" {
			t.Errorf("expected Retry-After 20, got %q", got)
		}
		var body errorResponse
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("failed to decode error response: %s", err)
		}
		if !strings.Contains(body.Error, "cooldown") {
			t.Errorf("expected cooldown message, got %q", body.Error)
		}
	})
	t.Run("provider failure is a bad gateway", func(t *testing.T) {
		srv := testServer(t, &mockEngine{err: &refresh.UpstreamError{Cause: errors.New("boom")}})
		resp, _ := do(t, srv, http.MethodPost, "/api/v1/refresh", "")
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", resp.StatusCode)
		}
	})
}

func TestServer_Intents(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"valid unit", http.MethodPut, "/api/v1/unit", `{"unit":"fahrenheit"}`, http.StatusOK},
		{"unknown unit", http.MethodPut, "/api/v1/unit", `{"unit":"kelvin"}`, http.StatusBadRequest},
		{"missing unit", http.MethodPut, "/api/v1/unit", `{}`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/v1/unit", `{"unit":"celsius","foo":1}`, http.StatusBadRequest},
		{"malformed body", http.MethodPut, "/api/v1/unit", `{"unit":`, http.StatusBadRequest},
		{"valid home hours", http.MethodPut, "/api/v1/home-hours", `{"start":"07:00","end":"22:30"}`, http.StatusOK},
		{"invalid home hours", http.MethodPut, "/api/v1/home-hours", `{"start":"25:00","end":"22:00"}`, http.StatusBadRequest},
		{"valid indoor", http.MethodPut, "/api/v1/indoor", `{"temperature":22.5,"relative_humidity":65}`, http.StatusOK},
		{"indoor humidity out of range", http.MethodPut, "/api/v1/indoor", `{"temperature":22.5,"relative_humidity":120}`, http.StatusBadRequest},
		{"indoor without temperature", http.MethodPut, "/api/v1/indoor", `{"relative_humidity":50}`, http.StatusBadRequest},
		{"indoor below absolute zero", http.MethodPut, "/api/v1/indoor", `{"temperature":-300,"relative_humidity":50}`, http.StatusBadRequest},
		{"clear indoor", http.MethodDelete, "/api/v1/indoor", "", http.StatusOK},
		{"select place", http.MethodPut, "/api/v1/location", `{"id":"1","title":"Berlin","subtitle":"Germany"}`, http.StatusOK},
		{"select place with coordinates", http.MethodPut, "/api/v1/location", `{"title":"Hamburg","lat":53.55,"lon":9.99}`, http.StatusOK},
		{"select place with invalid latitude", http.MethodPut, "/api/v1/location", `{"title":"Nowhere","lat":91,"lon":0}`, http.StatusBadRequest},
		{"select unknown place", http.MethodPut, "/api/v1/location", `{"id":"unknown","title":"Nowhere"}`, http.StatusNotFound},
		{"select place without title", http.MethodPut, "/api/v1/location", `{"id":"1"}`, http.StatusBadRequest},
		{"search", http.MethodPost, "/api/v1/search", `{"query":"Berlin"}`, http.StatusAccepted},
		{"dismiss notice", http.MethodDelete, "/api/v1/notice", "", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := testServer(t, &mockEngine{home: ventilation.DefaultHomeHours})
			resp, data := do(t, srv, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Errorf("expected status %d, got %d: %s", tc.status, resp.StatusCode, data)
			}
		})
	}
}

func TestServer_SetIndoor(t *testing.T) {
	srv := testServer(t, &mockEngine{})
	if resp, _ := do(t, srv, http.MethodPost, "/api/v1/refresh", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	_, data := do(t, srv, http.MethodPut, "/api/v1/indoor", `{"temperature":22.5,"relative_humidity":65}`)
	state := decodeState(t, data)
	if state.Advice != humidity.AdviceVentilate {
		t.Errorf("expected advice ventilate, got %s", state.Advice)
	}
	if !state.IndoorAbsolute.IsSet() {
		t.Error("expected indoor absolute humidity")
	}
}

func TestServer_CORS(t *testing.T) {
	srv := testServer(t, &mockEngine{})
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", testOrigin, testOrigin},
		{"foreign origin", "http://example.com", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, srv.URL+"/api/v1/unit", nil)
			if err != nil {
				t.Fatalf("failed to create request: %s", err)
			}
			req.Header.Set("Origin", tc.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("preflight request failed: %s", err)
			}
			_ = resp.Body.Close()
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Errorf("expected allowed origin %q, got %q", tc.want, got)
			}
		})
	}
}

func TestServer_Events(t *testing.T) {
	srv := testServer(t, &mockEngine{})
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("failed to create request: %s", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("event request failed: %s", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read event: %s", err)
	}
	if line != "event: state\n" {
		t.Errorf("expected state event, got %q", line)
	}
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read event data: %s", err)
	}
	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		t.Fatalf("expected data line, got %q", line)
	}
	decodeState(t, []byte(data))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&refresh.CooldownActiveError{}, http.StatusTooManyRequests},
		{fmt.Errorf("wrapped: %w", &refresh.RateLimitedError{}), http.StatusTooManyRequests},
		{refresh.ErrNoLocation, http.StatusConflict},
		{search.ErrNotFound, http.StatusNotFound},
		{search.ErrUnresolvable, http.StatusUnprocessableEntity},
		{humidity.ErrInvalidInput, http.StatusBadRequest},
		{ventilation.ErrInvalidHomeHours, http.StatusBadRequest},
		{&refresh.UpstreamError{Cause: io.EOF}, http.StatusBadGateway},
		{&refresh.PersistError{Op: "write snapshot", Err: io.ErrShortWrite}, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Errorf("expected status %d, got %d", tc.want, got)
			}
		})
	}
}
