package flush

import (
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// QuietTrigger drains a session after a quiet period (no new appends for the duration)
type QuietTrigger struct {
	quiet  time.Duration
	timers *sessionTimers
}

// NewQuietTrigger creates a new QuietTrigger
func NewQuietTrigger(quiet time.Duration, drain DrainFunc) *QuietTrigger {
	return &QuietTrigger{
		quiet:  quiet,
		timers: newSessionTimers(drain),
	}
}

// Observe resets the session's quiet timer
func (t *QuietTrigger) Observe(s batch.Stats) {
	t.timers.arm(s.Session, t.quiet, true)
}

// Close stops all timers; batches still open stay in the store
func (t *QuietTrigger) Close() {
	t.timers.stop()
}
