// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/refresh"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow   = 2 * time.Second
	signalBufferSize = 8

	networkWakeupDelay = 10 * time.Second
	reconnectDelay     = 5 * time.Second
)

var errBusClosed = errors.New("system bus connection closed")

// monitorSleepResume refreshes after every resume from suspend until ctx is done. Lost
// connections to the system bus are re-established.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume atomic.Int64
	for ctx.Err() == nil {
		if err := s.watchResume(ctx, &lastResume); err != nil {
			s.logger.Debug("sleep monitor interrupted", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(reconnectDelay):
		}
	}
}

// watchResume serves a single system bus connection.
func (s *Service) watchResume(ctx context.Context, lastResume *atomic.Int64) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to close system bus connection", logger.Err(err))
		}
	}()

	if err = conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusWatchMember),
	); err != nil {
		return fmt.Errorf("failed to subscribe to %s.%s: %w", dbusInterface, dbusWatchMember, err)
	}

	signals := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	s.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
		slog.String("member", dbusWatchMember))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errBusClosed
			}
			if isResume(sig) {
				s.handleResumeEvent(ctx, lastResume)
			}
		}
	}
}

// isResume reports whether sig is PrepareForSleep(false), which logind sends after a resume.
func isResume(sig *dbus.Signal) bool {
	if sig == nil || len(sig.Body) != 1 {
		return false
	}
	sleeping, ok := sig.Body[0].(bool)
	return ok && !sleeping
}

// handleResumeEvent refreshes after the system woke up. Resume events within the debounce window
// of the previous one are ignored. The refresh waits for the network to come back first.
func (s *Service) handleResumeEvent(ctx context.Context, lastResume *atomic.Int64) {
	now := s.clock.Now()
	last := time.Unix(0, lastResume.Load())
	if lastResume.Load() != 0 && now.Sub(last) < debounceWindow {
		return
	}
	lastResume.Store(now.UnixNano())

	select {
	case <-s.clock.After(networkWakeupDelay):
	case <-ctx.Done():
		return
	}

	s.logger.Debug("resumed from sleep, refreshing humidity data")
	s.refresh(ctx, refresh.TriggerResume)
	s.printOutput(ctx)
}
