// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package statebus distributes snapshot updates to the observers of a single process.
package statebus

import (
	"context"
	"sync"
	"time"

	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/store"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// SnapshotSource returns the latest persisted snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
}

// Update is a snapshot published on the bus.
type Update struct {
	Snapshot *store.Snapshot
	At       time.Time
}

// NewerThan reports whether u carries a different snapshot than prev.
func (u Update) NewerThan(prev Update) bool {
	if prev.Snapshot == nil {
		return u.Snapshot != nil
	}
	if u.Snapshot == nil {
		return false
	}
	return u.Snapshot.ID != prev.Snapshot.ID
}

// Bus fans out snapshot updates to its subscribers. Slow subscribers miss updates instead of
// blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	logger *logger.Logger
	latest Update
	subs   map[chan Update]struct{}
}

func New(logger *logger.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[chan Update]struct{}),
	}
}

// Subscribe registers a subscriber with the given buffer size. The latest update, if any, is
// delivered right away. The returned function unregisters the subscriber and closes the channel.
func (b *Bus) Subscribe(size int) (<-chan Update, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan Update, size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.latest.Snapshot != nil {
		ch <- b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish broadcasts the snapshot unless it is the one published last.
func (b *Bus) Publish(snap *store.Snapshot) {
	update := Update{Snapshot: snap, At: time.Now()}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !update.NewerThan(b.latest) {
		return
	}
	b.latest = update
	for ch := range b.subs {
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropping snapshot update for slow subscriber")
		}
	}
}

// Latest returns the last published snapshot.
func (b *Bus) Latest() (*store.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Snapshot, b.latest.Snapshot != nil
}

// Watch polls the source in the given interval and publishes snapshots persisted by other
// processes. Read errors are retried with an exponential backoff. Watch returns when ctx is done.
func (b *Bus) Watch(ctx context.Context, source SnapshotSource, interval time.Duration) {
	backoff := initialBackoff
	wait := time.Duration(0)
	for {
		if !sleepOrDone(ctx, wait) {
			return
		}
		snap, err := source.Snapshot(ctx)
		if err != nil {
			b.logger.Error("failed to read snapshot", logger.Err(err))
			wait = backoff
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		wait = interval
		if snap != nil {
			b.Publish(snap)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
