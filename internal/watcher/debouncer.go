package watcher

import (
	"sync"
	"time"
)

// debounceKey uniquely identifies a debounce entry.
type debounceKey struct {
	issue string
	file  string
}

// debounceEntry tracks a pending debounced event.
type debounceEntry struct {
	timer *time.Timer
	path  string
}

// Debouncer coalesces rapid file change events. It waits for a quiet period
// before firing the callback, so the atomic temp-write-then-rename pattern
// used by the state store surfaces as a single event.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[debounceKey]*debounceEntry
	interval time.Duration
	callback func(issue, file, path string)
	stopped  bool
}

// NewDebouncer creates a debouncer with the given interval in milliseconds.
func NewDebouncer(intervalMs int, callback func(issue, file, path string)) *Debouncer {
	return &Debouncer{
		pending:  make(map[debounceKey]*debounceEntry),
		interval: time.Duration(intervalMs) * time.Millisecond,
		callback: callback,
	}
}

// Trigger registers a file change for debouncing. A pending event for the
// same issue+file has its timer reset.
func (d *Debouncer) Trigger(issue, file, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	key := debounceKey{issue: issue, file: file}
	if entry, exists := d.pending[key]; exists {
		entry.timer.Stop()
		entry.path = path
		entry.timer = time.AfterFunc(d.interval, func() { d.fire(key) })
		return
	}
	d.pending[key] = &debounceEntry{
		path:  path,
		timer: time.AfterFunc(d.interval, func() { d.fire(key) }),
	}
}

// fire executes the callback for a debounced event.
func (d *Debouncer) fire(key debounceKey) {
	d.mu.Lock()
	entry, exists := d.pending[key]
	if !exists || d.stopped {
		d.mu.Unlock()
		return
	}
	path := entry.path
	delete(d.pending, key)
	d.mu.Unlock()

	d.callback(key.issue, key.file, path)
}

// Stop cancels all pending timers and prevents new events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// PendingCount returns the number of pending debounced events.
// Useful for testing.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
