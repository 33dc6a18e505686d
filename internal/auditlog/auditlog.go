// Package auditlog keeps the most recent routed messages in a fixed-size ring
// buffer.
package auditlog

import (
	"sync"
	"time"

	"gitlab.com/dirk.krummacker/message-relay/internal/model"
)

// Log is a thread-safe circular buffer of log entries. When the buffer is
// full, adding an entry overwrites the oldest one. A Log with capacity 0
// never retains anything.
type Log struct {
	mu      sync.Mutex
	entries []model.LogEntry
	next    int // slot that the next Add writes to
	size    int
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces the clock that Record uses to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a log that holds at most capacity entries. Negative values are
// treated as 0.
func New(capacity int, opts ...Option) *Log {
	if capacity < 0 {
		capacity = 0
	}
	l := &Log{
		entries: make([]model.LogEntry, capacity),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends an entry, evicting the oldest one if the log is full.
func (l *Log) Add(entry model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return
	}
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Record stamps a new entry with the current time and adds it.
func (l *Log) Record(direction model.Direction, counterparty, body string) {
	l.Add(model.LogEntry{
		Timestamp:    l.now().Unix(),
		Direction:    direction,
		Counterparty: counterparty,
		Body:         body,
	})
}

// Entries returns a copy of the current contents, oldest first.
func (l *Log) Entries() []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LogEntry, 0, l.size)
	start := (l.next - l.size + len(l.entries)) % max(len(l.entries), 1)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(start+i)%len(l.entries)])
	}
	return out
}

// Len returns the number of entries currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Cap returns the capacity the log was created with.
func (l *Log) Cap() int {
	return len(l.entries)
}
