// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package testhelper

import (
	"net/http"
	"os"
	"testing"
)

// TestOnlineAPIURL is a reachable endpoint used by integration tests that need real network I/O.
const TestOnlineAPIURL = "https://api.open-meteo.com/v1/forecast"

// MockRoundTripper is an http.RoundTripper that delegates every request to Fn.
type MockRoundTripper struct {
	Fn func(*http.Request) (*http.Response, error)
}

func (m MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fn(req)
}

// PerformIntegrationTests skips the calling test unless PERFORM_INTEGRATION_TESTS is set.
func PerformIntegrationTests(t *testing.T) {
	t.Helper()
	if os.Getenv("PERFORM_INTEGRATION_TESTS") == "" {
		t.Skip("skipping integration test, set PERFORM_INTEGRATION_TESTS to enable")
	}
}

// FileResponse returns a RoundTrip func that answers every request with the given status code and
// the content of the given fixture file.
func FileResponse(t *testing.T, status int, file string, header http.Header) func(*http.Request) (*http.Response, error) {
	t.Helper()
	return func(*http.Request) (*http.Response, error) {
		data, err := os.Open(file)
		if err != nil {
			t.Fatalf("failed to open JSON response file: %s", err)
		}
		if header == nil {
			header = make(http.Header)
		}
		return &http.Response{
			StatusCode: status,
			Body:       data,
			Header:     header,
		}, nil
	}
}
