package room

import (
	"sync"
	"time"
)

// DefaultTypingDelay is how long the local participant has to stay idle before "typing" turns off.
const DefaultTypingDelay = 800 * time.Millisecond

// Debouncer turns raw local edits into throttled typing notifications. The first edit of a burst
// reports "typing", and a single "not typing" follows once no edit happened for the delay. At most
// one inactivity timer is pending at any time.
//
// notify is called with the Debouncer's lock held, so it must not block; callers are expected to
// hand the notification off to the network asynchronously.
type Debouncer struct {
	delay  time.Duration
	notify func(active bool)

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	typing bool
	closed bool
}

// NewDebouncer creates a Debouncer. A non-positive delay means DefaultTypingDelay.
func NewDebouncer(delay time.Duration, notify func(active bool)) *Debouncer {
	if delay <= 0 {
		delay = DefaultTypingDelay
	}
	return &Debouncer{
		delay:  delay,
		notify: notify,
	}
}

// Edit records a local text change.
func (d *Debouncer) Edit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if !d.typing {
		d.typing = true
		d.notify(true)
	}

	d.cancelLocked()
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.expire(gen) })
}

// Blur reports "not typing" right away, whatever the timer state, and cancels the pending timer.
func (d *Debouncer) Blur() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.cancelLocked()
	d.typing = false
	d.notify(false)
}

// Stop cancels the pending timer without notifying. The Debouncer ignores every later call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.closed = true
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A timer that fired while being replaced must not report for the newer burst.
	if d.closed || gen != d.gen {
		return
	}
	d.timer = nil
	d.typing = false
	d.notify(false)
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
