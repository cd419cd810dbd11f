// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/waybar-humidity/internal/http"
	"github.com/wneessen/waybar-humidity/internal/search"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const (
	APIAutocompleteEndpoint = "https://api.geocode.earth/v1/autocomplete"
	APIPlaceEndpoint        = "https://api.geocode.earth/v1/place"
	APITimeout              = time.Second * 10
	resultSize              = 8
	name                    = "geocode-earth"
)

type GeocodeEarth struct {
	apikey       string
	autocomplete string
	place        string
	http         *http.Client
	lang         language.Tag
}

type Response struct {
	Features []Feature `json:"features"`
	Type     string    `json:"type"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Type       string     `json:"type"`
}

// Geometry holds a GeoJSON point. Coordinates are ordered longitude, latitude.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
	Type        string    `json:"type"`
}

type Properties struct {
	GID     string `json:"gid"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	City    string `json:"locality"`
	State   string `json:"region"`
	Country string `json:"country"`
}

func New(client *http.Client, lang language.Tag, apikey string) *GeocodeEarth {
	return &GeocodeEarth{
		apikey:       apikey,
		autocomplete: APIAutocompleteEndpoint,
		place:        APIPlaceEndpoint,
		lang:         lang,
		http:         client,
	}
}

func (g *GeocodeEarth) Name() string {
	return name
}

func (g *GeocodeEarth) Complete(ctx context.Context, text string) ([]search.Place, error) {
	query := url.Values{}
	query.Set("text", text)
	query.Set("size", strconv.Itoa(resultSize))

	response, err := g.get(ctx, g.autocomplete, query)
	if err != nil {
		return nil, err
	}

	places := make([]search.Place, 0, len(response.Features))
	for _, feature := range response.Features {
		places = append(places, feature.place())
	}
	return places, nil
}

func (g *GeocodeEarth) Resolve(ctx context.Context, place search.Place) (weather.Coordinate, error) {
	if place.Coordinate != nil {
		return *place.Coordinate, nil
	}
	if place.ID == "" {
		return weather.Coordinate{}, fmt.Errorf("%w: %q has no geocode.earth id", search.ErrUnresolvable,
			place.Title)
	}

	query := url.Values{}
	query.Set("ids", place.ID)
	response, err := g.get(ctx, g.place, query)
	if err != nil {
		return weather.Coordinate{}, err
	}
	if len(response.Features) < 1 {
		return weather.Coordinate{}, fmt.Errorf("%w: %q", search.ErrNotFound, place.ID)
	}
	resolved := response.Features[0].place()
	if resolved.Coordinate == nil {
		return weather.Coordinate{}, fmt.Errorf("%w: %q", search.ErrUnresolvable, place.ID)
	}
	return *resolved.Coordinate, nil
}

func (g *GeocodeEarth) get(ctx context.Context, endpoint string, query url.Values) (Response, error) {
	var response Response
	query.Set("api_key", g.apikey)
	query.Set("lang", g.lang.String())

	code, err := g.http.GetWithTimeout(ctx, endpoint, &response, query, nil, APITimeout)
	if err != nil {
		return response, fmt.Errorf("failed to retrieve places from geocode.earth API: %w", err)
	}
	if code != 200 {
		return response, fmt.Errorf("received non-positive response code from geocode.earth API: %d", code)
	}
	return response, nil
}

func (f Feature) place() search.Place {
	place := search.Place{
		ID:       f.Properties.GID,
		Title:    f.Properties.Name,
		Subtitle: f.Properties.Label,
	}
	if place.Title == "" {
		place.Title = f.Properties.Label
		place.Subtitle = ""
	}
	if len(f.Geometry.Coordinates) == 2 {
		place.Coordinate = &weather.Coordinate{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}
	}
	return place
}
