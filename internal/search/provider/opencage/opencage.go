// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

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
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	resultLimit = 8
	name        = "opencage"
)

type OpenCage struct {
	apikey   string
	endpoint string
	http     *http.Client
	lang     language.Tag
}

type Response struct {
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	Town           string `json:"town"`
	Village        string `json:"village"`
	State          string `json:"state"`
	Country        string `json:"country"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) *OpenCage {
	return &OpenCage{
		apikey:   apikey,
		endpoint: APIEndpoint,
		lang:     lang,
		http:     client,
	}
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Complete(ctx context.Context, query string) ([]search.Place, error) {
	results, err := o.forward(ctx, query, resultLimit)
	if err != nil {
		return nil, err
	}
	places := make([]search.Place, 0, len(results))
	for _, result := range results {
		places = append(places, result.place())
	}
	return places, nil
}

// Resolve returns the coordinate of the place, looking it up by title and subtitle if the place
// came without one.
func (o *OpenCage) Resolve(ctx context.Context, place search.Place) (weather.Coordinate, error) {
	if place.Coordinate != nil {
		return *place.Coordinate, nil
	}
	query := place.Title
	if place.Subtitle != "" {
		query += ", " + place.Subtitle
	}
	results, err := o.forward(ctx, query, 1)
	if err != nil {
		return weather.Coordinate{}, err
	}
	if len(results) < 1 {
		return weather.Coordinate{}, fmt.Errorf("%w: %q", search.ErrNotFound, place.Title)
	}
	return results[0].coordinate(), nil
}

func (o *OpenCage) forward(ctx context.Context, address string, limit int) ([]Result, error) {
	var response Response

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", address)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	code, err := o.http.GetWithTimeout(ctx, o.endpoint, &response, query, nil, APITimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve places from OpenCage API: %w", err)
	}
	if code != 200 {
		return nil, fmt.Errorf("received non-positive response code from OpenCage API: %d", code)
	}
	return response.Results, nil
}

func (r Result) coordinate() weather.Coordinate {
	return weather.Coordinate{Lat: r.Geometry.Lat, Lon: r.Geometry.Lon}
}

func (r Result) place() search.Place {
	coords := r.coordinate()
	title := r.Components.NormalizedCity
	for _, candidate := range []string{r.Components.City, r.Components.Town, r.Components.Village} {
		if title != "" {
			break
		}
		title = candidate
	}

	subtitle := ""
	if title == "" {
		title, subtitle, _ = strings.Cut(r.DisplayName, ", ")
	} else {
		parts := make([]string, 0, 2)
		for _, part := range []string{r.Components.State, r.Components.Country} {
			if part != "" && part != title {
				parts = append(parts, part)
			}
		}
		subtitle = strings.Join(parts, ", ")
	}

	return search.Place{
		ID:         coords.String(),
		Title:      title,
		Subtitle:   subtitle,
		Coordinate: &coords,
	}
}
