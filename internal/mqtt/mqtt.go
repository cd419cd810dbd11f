// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt publishes snapshot-updated notices to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/statebus"
	"github.com/wneessen/waybar-humidity/internal/store"
)

const subscriptionSize = 8

var ErrNilSnapshot = errors.New("snapshot must not be nil")

// Publisher publishes snapshot updates.
type Publisher interface {
	Publish(snap *store.Snapshot) error
	Close() error
}

// Payload is the JSON document published for every new snapshot.
type Payload struct {
	ID                string     `json:"id"`
	Version           uint64     `json:"version"`
	FetchedAt         string     `json:"fetched_at"`
	Temperature       float64    `json:"temperature_celsius"`
	RelativeHumidity  float64    `json:"relative_humidity"`
	AbsoluteHumidity  float64    `json:"absolute_humidity"`
	Window            *WindowDoc `json:"window,omitempty"`
	PredictedHumidity *float64   `json:"predicted_humidity,omitempty"`
}

type WindowDoc struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FormatPayload creates the JSON payload for a snapshot.
func FormatPayload(snap *store.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}
	payload := Payload{
		ID:               snap.ID.String(),
		Version:          snap.Version,
		FetchedAt:        snap.FetchedAt.UTC().Format(time.RFC3339),
		Temperature:      snap.Current.Temperature,
		RelativeHumidity: snap.Current.RelativeHumidity,
		AbsoluteHumidity: snap.Current.AbsoluteHumidity,
	}
	if snap.Window != nil {
		payload.Window = &WindowDoc{
			Start: snap.Window.Start.Format(time.RFC3339),
			End:   snap.Window.End.Format(time.RFC3339),
		}
	}
	if predicted, ok := snap.PredictedHumidity.Get(); ok {
		payload.PredictedHumidity = &predicted
	}
	return json.Marshal(payload)
}

// Forward publishes every update from the bus until ctx is done. Publish failures are logged and
// do not stop forwarding.
func Forward(ctx context.Context, bus *statebus.Bus, pub Publisher, log *logger.Logger) {
	updates, unsub := bus.Subscribe(subscriptionSize)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := pub.Publish(update.Snapshot); err != nil {
				log.Error("failed to publish snapshot update", logger.Err(err))
				continue
			}
			log.Debug("published snapshot update", slog.String("id", update.Snapshot.ID.String()),
				slog.Uint64("version", update.Snapshot.Version))
		}
	}
}
