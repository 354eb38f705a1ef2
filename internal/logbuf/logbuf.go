// Package logbuf keeps the most recent log records in memory so the
// operations API can serve them without touching disk. The daemon's
// JSON log still goes to stdout; this buffer is a queryable window
// onto the same stream for GET /api/logs.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-capacity ring of log entries, oldest evicted first.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	next int
	full bool
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	return &Buffer{ring: make([]Entry, capacity)}
}

// Write stores an entry, evicting the oldest when the ring is full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.ring[b.next] = e
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
	b.mu.Unlock()
}

// Query returns entries at or above minLevel recorded at or after
// since, oldest first. A zero since means no time bound. When limit is
// positive, only the newest limit matches are returned.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, n := 0, b.next
	if b.full {
		start, n = b.next, len(b.ring)
	}

	var out []Entry
	for i := 0; i < n; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelOf(e) < minLevel {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// levelOf parses the entry's stored level name. Unparseable levels
// rank as info so they survive the default filter.
func levelOf(e Entry) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(e.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
