package notify

import (
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
)

// DefaultWindow is the quiet period after the last Notify before a change
// event is delivered.
const DefaultWindow = 100 * time.Millisecond

// Debouncer collapses bursts of change signals into a single delivered
// notification. The debounce is trailing: the event fires one window after the
// last Notify of a burst, and a burst is never dropped. Timing runs on an
// injected clock so tests can drive it deterministically.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration

	mu       sync.Mutex
	handlers []func()
	timer    clock.Timer
	pending  bool
}

// NewDebouncer creates a debouncer with the given quiet window. A zero or
// negative window falls back to DefaultWindow.
func NewDebouncer(cl clock.Clock, window time.Duration) *Debouncer {
	if cl == nil {
		cl = clock.SystemClock
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		clock:  cl,
		window: window,
	}
}

// Subscribe registers a handler to be called on each delivered change event.
// Handlers receive no payload; they re-read whatever state they observe.
func (d *Debouncer) Subscribe(handler func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Notify signals that state changed. Any number of calls within a window
// collapse into one event, delivered one window after the last call.
func (d *Debouncer) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.window, d.fire)
}

// Flush delivers any pending notification immediately. Used on shutdown and
// in test teardown so a trailing burst is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fire()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	handlers := make([]func(), len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	// Handlers run outside the lock; they commonly call back into state that
	// itself calls Notify.
	for _, handler := range handlers {
		handler()
	}
}
