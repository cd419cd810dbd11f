// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-humidity/internal/http"
	"github.com/wneessen/waybar-humidity/internal/search"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const (
	APISearchEndpoint = "https://nominatim.openstreetmap.org/search"
	APITimeout        = time.Second * 10
	resultLimit       = 8
	name              = "osm-nominatim"
)

type Nominatim struct {
	endpoint string
	http     *http.Client
	lang     language.Tag
}

type SearchResult struct {
	PlaceID     int64   `json:"place_id"`
	APILat      string  `json:"lat"`
	APILon      string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

type Address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	State   string `json:"state"`
	Country string `json:"country"`
}

func New(client *http.Client, lang language.Tag) *Nominatim {
	return &Nominatim{
		endpoint: APISearchEndpoint,
		lang:     lang,
		http:     client,
	}
}

func (n *Nominatim) Name() string {
	return name
}

func (n *Nominatim) Complete(ctx context.Context, query string) ([]search.Place, error) {
	results, err := n.search(ctx, query, resultLimit)
	if err != nil {
		return nil, err
	}

	places := make([]search.Place, 0, len(results))
	for _, result := range results {
		place, err := result.place()
		if err != nil {
			return nil, err
		}
		places = append(places, place)
	}
	return places, nil
}

// Resolve returns the coordinate of the place. Nominatim suggestions always carry their
// coordinate, so a lookup only happens for places from elsewhere.
func (n *Nominatim) Resolve(ctx context.Context, place search.Place) (weather.Coordinate, error) {
	if place.Coordinate != nil {
		return *place.Coordinate, nil
	}
	query := strings.TrimSpace(place.Title + ", " + place.Subtitle)
	results, err := n.search(ctx, strings.TrimSuffix(query, ","), 1)
	if err != nil {
		return weather.Coordinate{}, err
	}
	if len(results) < 1 {
		return weather.Coordinate{}, fmt.Errorf("%w: %q", search.ErrNotFound, place.Title)
	}
	resolved, err := results[0].place()
	if err != nil {
		return weather.Coordinate{}, err
	}
	return *resolved.Coordinate, nil
}

func (n *Nominatim) search(ctx context.Context, address string, limit int) ([]SearchResult, error) {
	var result []SearchResult

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("q", address)
	query.Set("addressdetails", "1")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("accept-language", n.lang.String())

	code, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch address details from Nominatim API: %w", err)
	}
	if code != 200 {
		return nil, fmt.Errorf("received non-positive response code from Nominatim API: %d", code)
	}
	return result, nil
}

func (r SearchResult) place() (search.Place, error) {
	lat, err := strconv.ParseFloat(r.APILat, 64)
	if err != nil {
		return search.Place{}, fmt.Errorf("failed to parse latitude from Nominatim API response: %w", err)
	}
	lon, err := strconv.ParseFloat(r.APILon, 64)
	if err != nil {
		return search.Place{}, fmt.Errorf("failed to parse longitude from Nominatim API response: %w", err)
	}

	title := r.Name
	if title == "" {
		title = firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village)
	}
	subtitle := r.DisplayName
	if title != "" {
		subtitle = strings.TrimPrefix(strings.TrimPrefix(r.DisplayName, title), ", ")
	} else {
		title = r.DisplayName
		subtitle = ""
	}

	return search.Place{
		ID:         strconv.FormatInt(r.PlaceID, 10),
		Title:      title,
		Subtitle:   subtitle,
		Coordinate: &weather.Coordinate{Lat: lat, Lon: lon},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if val != "" {
			return val
		}
	}
	return ""
}
