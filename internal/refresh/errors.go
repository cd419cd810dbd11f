// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package refresh

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoLocation = errors.New("no location has been saved")

// CooldownActiveError is returned when a refresh was requested before the cooldown interval of
// the previous refresh expired.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("refresh cooldown active, %s remaining", e.Remaining.Round(time.Second))
}

// RateLimitedError is returned when the weather provider rejected the request because of rate
// limiting.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("weather provider rate limit exceeded, retry after %s", e.RetryAfter)
}

// UpstreamError is returned for any other failure of the weather provider.
type UpstreamError struct {
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("weather provider request failed: %s", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// PersistError is returned when the Store could not be read or written. A failed write leaves
// the previously persisted snapshot unchanged.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsNotice reports whether err is an expected condition that is shown as a transient notice
// instead of an error.
func IsNotice(err error) bool {
	var cooldownErr *CooldownActiveError
	var rateErr *RateLimitedError
	return errors.As(err, &cooldownErr) || errors.As(err, &rateErr)
}
