// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/wneessen/waybar-humidity/internal/logger"
)

const (
	// DefaultTimeout is the default timeout value for the HTTPClient
	DefaultTimeout = time.Second * 10

	breakerName        = "waybar-humidity-http"
	breakerMaxFailures = 5
	breakerInterval    = time.Minute
	breakerTimeout     = time.Second * 30
)

var (
	// version is the version of the application (will be set at build time)
	version = "dev"
	// UserAgent is the User-Agent that the HTTP client sends with API requests
	UserAgent = fmt.Sprintf("Mozilla/5.0 (%s; %s) waybar-humidity/%s (+https://github.com/wneessen/waybar-humidity/)",
		runtime.GOOS,
		runtime.GOARCH,
		version,
	)

	ErrNonPointerTarget = errors.New("target must be a non-nil pointer")
	ErrCircuitOpen      = errors.New("upstream circuit breaker is open")
	ErrRateLimited      = errors.New("upstream rate limit exceeded")
)

// RateLimitError is returned when the upstream answered with HTTP 429. RetryAfter holds the
// server-provided backoff hint or zero if the response did not carry one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// StatusError is returned for upstream server errors (HTTP 5xx).
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP status %d", e.StatusCode)
}

// Client is a type wrapper for the Go stdlib http.Client guarded by a circuit breaker
type Client struct {
	*http.Client
	logger  *logger.Logger
	breaker *gobreaker.CircuitBreaker[*http.Response]
	now     func() time.Time
}

// New returns a new HTTP client
func New(logger *logger.Logger) *Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	httpTransport := &http.Transport{TLSClientConfig: tlsConfig}
	httpClient := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: httpTransport,
	}
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Debug("circuit breaker changed state", "breaker", name, "from", from.String(),
				"to", to.String())
		},
	})
	return &Client{Client: httpClient, logger: logger, breaker: breaker, now: time.Now}
}

// Get performs a HTTP GET request for the given URL and json-unmarshals the response
// into target
func (h *Client) Get(ctx context.Context, endpoint string, target any, query url.Values, headers map[string]string) (int, error) {
	return h.GetWithTimeout(ctx, endpoint, target, query, headers, DefaultTimeout)
}

// GetWithTimeout performs a HTTP GET request for the given URL and timeout and JSON-unmarshals
// the response into target. A HTTP 429 response is returned as *RateLimitError, HTTP 5xx responses
// as *StatusError. Both count as failures for the circuit breaker.
func (h *Client) GetWithTimeout(ctx context.Context, endpoint string, target any, query url.Values, headers map[string]string, timeout time.Duration) (int, error) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0, ErrNonPointerTarget
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Prepare URL and query parameters
	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}
	if len(query) > 0 {
		reqURL.RawQuery = query.Encode()
	}

	// Prepare HTTP request
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed create new HTTP request with context: %w", err)
	}
	request.Header.Set("User-Agent", UserAgent)
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	// Execute HTTP request through the circuit breaker
	response, err := h.breaker.Execute(func() (*http.Response, error) {
		res, doErr := h.Do(request)
		if doErr != nil {
			return nil, doErr
		}
		if res == nil {
			return nil, errors.New("nil response received")
		}
		if res.StatusCode == http.StatusTooManyRequests {
			return res, &RateLimitError{RetryAfter: parseRetryAfter(res.Header.Get("Retry-After"), h.now())}
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return res, &StatusError{StatusCode: res.StatusCode}
		}
		return res, nil
	})
	if response != nil {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				h.logger.Error("failed to close HTTP request body", logger.Err(err))
			}
		}(response.Body)
	}
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return 0, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return 0, err
		case response != nil:
			return response.StatusCode, err
		default:
			return 0, fmt.Errorf("failed to perform HTTP request: %w", err)
		}
	}

	// Unmarshal the JSON API response into target
	if err = json.NewDecoder(response.Body).Decode(target); err != nil {
		return response.StatusCode, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return response.StatusCode, nil
}

// parseRetryAfter parses the value of a Retry-After header, which is either a number of seconds
// or a HTTP date. It returns zero if the header is missing or invalid.
func parseRetryAfter(val string, now time.Time) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if wait := t.Sub(now); wait > 0 {
			return wait.Round(time.Second)
		}
	}
	return 0
}
