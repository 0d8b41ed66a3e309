package sched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer collects values by key and hands the latest value per key to a
// flush callback once no new value has arrived for the window, or as soon
// as maxBatch distinct keys are pending. Flushes run one at a time and in
// the order their batches were taken. onFlush must not call Flush or Stop.
type Debouncer[K comparable, V any] struct {
	clock    clockwork.Clock
	window   time.Duration
	maxBatch int
	onFlush  func(map[K]V)

	// flushMu is held for the whole of a flush, callback included.
	flushMu sync.Mutex

	mu      sync.Mutex
	pending map[K]V
	timer   clockwork.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer. maxBatch <= 0 disables the size
// trigger. A nil clock uses the real clock.
func NewDebouncer[K comparable, V any](clock clockwork.Clock, window time.Duration, maxBatch int, onFlush func(map[K]V)) *Debouncer[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer[K, V]{
		clock:    clock,
		window:   window,
		maxBatch: maxBatch,
		onFlush:  onFlush,
		pending:  make(map[K]V),
	}
}

// Add records value for key, replacing any pending value, and restarts the
// window.
func (d *Debouncer[K, V]) Add(key K, value V) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending[key] = value

	if d.maxBatch > 0 && len(d.pending) >= d.maxBatch {
		d.mu.Unlock()
		d.Flush()
		return
	}
	d.timer = d.clock.AfterFunc(d.window, d.fire)
	d.mu.Unlock()
}

func (d *Debouncer[K, V]) fire() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.deliverLocked()
}

// Len returns the number of keys waiting to be flushed.
func (d *Debouncer[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush delivers pending values immediately. It returns once they, and any
// flush already running, have been handed to the callback.
func (d *Debouncer[K, V]) Flush() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.mu.Lock()
	d.deliverLocked()
}

// deliverLocked is called with both locks held. It releases d.mu before
// invoking the callback.
func (d *Debouncer[K, V]) deliverLocked() {
	batch := d.pending
	d.pending = make(map[K]V)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if len(batch) > 0 && d.onFlush != nil {
		d.onFlush(batch)
	}
}

// Stop flushes what is pending, waits for a running flush and ignores
// later values.
func (d *Debouncer[K, V]) Stop() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.deliverLocked()
}
