package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	maxEntries      = 10000
	cleanupInterval = time.Minute
	entryTTL        = 5 * time.Minute
)

type entry struct {
	timestamps []time.Time
	lastAccess time.Time
}

// Memory is a process-local sliding window limiter.
type Memory struct {
	clock clockwork.Clock

	mu          sync.Mutex
	entries     map[string]*entry
	lastCleanup time.Time
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:       clock,
		entries:     make(map[string]*entry),
		lastCleanup: clock.Now(),
	}
}

func (m *Memory) cleanup(now time.Time) {
	if now.Sub(m.lastCleanup) < cleanupInterval {
		return
	}
	m.lastCleanup = now

	for key, e := range m.entries {
		if now.Sub(e.lastAccess) > entryTTL {
			delete(m.entries, key)
		}
	}

	if len(m.entries) > maxEntries {
		evict := len(m.entries) / 5
		for key := range m.entries {
			if evict == 0 {
				break
			}
			delete(m.entries, key)
			evict--
		}
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.cleanup(now)

	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.lastAccess = now

	windowStart := now.Add(-window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) >= limit {
		return false, e.timestamps[0].Add(window)
	}

	e.timestamps = append(e.timestamps, now)
	return true, e.timestamps[0].Add(window)
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
