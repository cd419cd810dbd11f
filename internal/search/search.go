// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package search

import (
	"context"
	"errors"
	"strings"

	"github.com/wneessen/waybar-humidity/internal/weather"
)

var (
	ErrNotFound     = errors.New("no place found")
	ErrUnresolvable = errors.New("place cannot be resolved to a coordinate")
)

// Place is a single search suggestion. Providers that return coordinates with their suggestions
// set Coordinate, everything else is resolved later with Provider.Resolve.
type Place struct {
	ID         string              `json:"id,omitempty"`
	Title      string              `json:"title"`
	Subtitle   string              `json:"subtitle,omitempty"`
	Coordinate *weather.Coordinate `json:"coordinate,omitempty"`
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, query string) ([]Place, error)
	Resolve(ctx context.Context, place Place) (weather.Coordinate, error)
}

// normalizeQuery trims the query and collapses inner whitespace.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
