package flush

import (
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// WindowTrigger drains a session a fixed time after its batch's first arrival
type WindowTrigger struct {
	window time.Duration
	now    func() time.Time
	timers *sessionTimers
}

// NewWindowTrigger creates a new WindowTrigger. now is the clock the
// elapsed time is measured against; nil means time.Now.
func NewWindowTrigger(window time.Duration, now func() time.Time, drain DrainFunc) *WindowTrigger {
	if now == nil {
		now = time.Now
	}
	return &WindowTrigger{
		window: window,
		now:    now,
		timers: newSessionTimers(drain),
	}
}

// Observe starts the session's timer if it is not already running.
// The delay is measured from the batch's first arrival, so a batch that was
// already open (e.g. restored from SQLite) is not held for a full window.
func (t *WindowTrigger) Observe(s batch.Stats) {
	delay := t.window - s.Age(t.now())
	if delay < 0 {
		delay = 0
	}
	t.timers.arm(s.Session, delay, false)
}

// Close stops all timers; batches still open stay in the store
func (t *WindowTrigger) Close() {
	t.timers.stop()
}
