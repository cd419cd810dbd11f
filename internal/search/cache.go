// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-humidity/internal/weather"
)

type cacheKey struct {
	Provider string
	Query    string
}

type cacheEntry struct {
	Places []Place
	Expiry time.Time
}

type resolveEntry struct {
	Coordinate weather.Coordinate
	Expiry     time.Time
}

// CachedProvider caches completions per normalized query and resolved coordinates per place ID.
// Failed lookups are not cached.
type CachedProvider struct {
	provider Provider
	ttl      time.Duration
	clock    clockwork.Clock

	mu       sync.RWMutex
	cache    map[cacheKey]cacheEntry
	resolved map[cacheKey]resolveEntry
}

func NewCachedProvider(provider Provider, ttl time.Duration, clock clockwork.Clock) *CachedProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedProvider{
		provider: provider,
		ttl:      ttl,
		clock:    clock,
		cache:    make(map[cacheKey]cacheEntry),
		resolved: make(map[cacheKey]resolveEntry),
	}
}

func (c *CachedProvider) Name() string {
	return "search cache using " + c.provider.Name()
}

func (c *CachedProvider) Complete(ctx context.Context, query string) ([]Place, error) {
	key := cacheKey{Provider: c.provider.Name(), Query: strings.ToLower(normalizeQuery(query))}

	c.mu.RLock()
	entry, ok := c.cache[key]
	if ok && c.clock.Now().Before(entry.Expiry) {
		places := append([]Place(nil), entry.Places...)
		c.mu.RUnlock()
		return places, nil
	}
	c.mu.RUnlock()

	places, err := c.provider.Complete(ctx, query)
	if err != nil {
		return places, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{
		Places: append([]Place(nil), places...),
		Expiry: c.clock.Now().Add(c.ttl),
	}
	c.evictExpired()

	return places, nil
}

func (c *CachedProvider) Resolve(ctx context.Context, place Place) (weather.Coordinate, error) {
	if place.Coordinate != nil {
		return *place.Coordinate, nil
	}
	if place.ID == "" {
		return c.provider.Resolve(ctx, place)
	}
	key := cacheKey{Provider: c.provider.Name(), Query: place.ID}

	c.mu.RLock()
	entry, ok := c.resolved[key]
	if ok && c.clock.Now().Before(entry.Expiry) {
		c.mu.RUnlock()
		return entry.Coordinate, nil
	}
	c.mu.RUnlock()

	coords, err := c.provider.Resolve(ctx, place)
	if err != nil {
		return coords, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[key] = resolveEntry{Coordinate: coords, Expiry: c.clock.Now().Add(c.ttl)}

	return coords, nil
}

// evictExpired drops expired completions. The caller must hold the write lock.
func (c *CachedProvider) evictExpired() {
	now := c.clock.Now()
	for key, entry := range c.cache {
		if !now.Before(entry.Expiry) {
			delete(c.cache, key)
		}
	}
}
