// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package weather

import (
	"testing"
	"time"
)

func TestCoordinate_Valid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"berlin", Coordinate{Lat: 52.52, Lon: 13.405}, true},
		{"null island", Coordinate{}, true},
		{"poles and antimeridian", Coordinate{Lat: -90, Lon: 180}, true},
		{"latitude too large", Coordinate{Lat: 90.1, Lon: 0}, false},
		{"latitude too small", Coordinate{Lat: -91, Lon: 0}, false},
		{"longitude too large", Coordinate{Lat: 0, Lon: 180.5}, false},
		{"longitude too small", Coordinate{Lat: 0, Lon: -181}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.coord.Valid(); got != tc.want {
				t.Errorf("expected valid to be %t, got %t", tc.want, got)
			}
		})
	}
}

func TestCoordinate_String(t *testing.T) {
	coord := Coordinate{Lat: 52.5170365, Lon: -13.3888599}
	if got := coord.String(); got != "52.5170,-13.3889" {
		t.Errorf("expected coordinate string %q, got %q", "52.5170,-13.3889", got)
	}
}

func TestRateLimitError_Error(t *testing.T) {
	err := &RateLimitError{Provider: "open-meteo", RetryAfter: 90 * time.Second}
	want := "open-meteo rate limit exceeded, retry after 1m30s"
	if err.Error() != want {
		t.Errorf("expected error message %q, got %q", want, err.Error())
	}
}
