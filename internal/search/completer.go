// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package search

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/wneessen/waybar-humidity/internal/logger"
)

const (
	DefaultDebounce = 250 * time.Millisecond
	DefaultMinRunes = 3
)

// Suggestions is the result for one query of a suggestion stream. A query that is too short yields
// an empty result without a lookup.
type Suggestions struct {
	Query  string
	Places []Place
	Err    error
}

// Completer turns a stream of partial queries into a stream of suggestions.
type Completer struct {
	provider Provider
	logger   *logger.Logger
	debounce time.Duration
	minRunes int
}

type lookupResult struct {
	gen         uint64
	suggestions Suggestions
}

func NewCompleter(provider Provider, log *logger.Logger) *Completer {
	return &Completer{
		provider: provider,
		logger:   log,
		debounce: DefaultDebounce,
		minRunes: DefaultMinRunes,
	}
}

// Stream reads queries until the channel is closed or ctx is done. Every query supersedes the
// previous one: a pending lookup is cancelled and its result is never delivered. The returned
// channel is closed when the stream ends.
func (c *Completer) Stream(ctx context.Context, queries <-chan string) <-chan Suggestions {
	out := make(chan Suggestions)
	go c.run(ctx, queries, out)
	return out
}

func (c *Completer) run(ctx context.Context, queries <-chan string, out chan<- Suggestions) {
	defer close(out)

	var gen uint64
	var pending string
	cancel := context.CancelFunc(func() {})
	defer func() { cancel() }()

	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()
	results := make(chan lookupResult)

	for {
		select {
		case <-ctx.Done():
			return
		case query, ok := <-queries:
			if !ok {
				return
			}
			gen++
			cancel()
			pending = normalizeQuery(query)
			timer.Reset(c.debounce)
		case <-timer.C:
			if utf8.RuneCountInString(pending) < c.minRunes {
				if !send(ctx, out, Suggestions{Query: pending}) {
					return
				}
				continue
			}
			var lookupCtx context.Context
			lookupCtx, cancel = context.WithCancel(ctx)
			go c.lookup(lookupCtx, gen, pending, results)
		case res := <-results:
			if res.gen != gen {
				continue
			}
			if !send(ctx, out, res.suggestions) {
				return
			}
		}
	}
}

func (c *Completer) lookup(ctx context.Context, gen uint64, query string, results chan<- lookupResult) {
	places, err := c.provider.Complete(ctx, query)
	if ctx.Err() != nil {
		c.logger.Debug("place lookup superseded", slog.String("query", query))
		return
	}
	if err != nil {
		c.logger.Error("place lookup failed", logger.Err(err), slog.String("query", query),
			slog.String("provider", c.provider.Name()))
	}
	select {
	case results <- lookupResult{gen: gen, suggestions: Suggestions{Query: query, Places: places, Err: err}}:
	case <-ctx.Done():
	}
}

func send(ctx context.Context, out chan<- Suggestions, suggestions Suggestions) bool {
	select {
	case out <- suggestions:
		return true
	case <-ctx.Done():
		return false
	}
}
