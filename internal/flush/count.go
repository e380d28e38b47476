package flush

import "github.com/dokzlo13/imagebatch/internal/batch"

// CountTrigger drains once a batch holds N items
type CountTrigger struct {
	target int
	drain  DrainFunc
}

// NewCountTrigger creates a new CountTrigger
func NewCountTrigger(count int, drain DrainFunc) *CountTrigger {
	return &CountTrigger{
		target: count,
		drain:  drain,
	}
}

// Observe drains the session if the target count is reached
func (t *CountTrigger) Observe(s batch.Stats) {
	if s.Count >= t.target {
		t.drain(s.Session)
	}
}

// Close is a no-op for CountTrigger
func (t *CountTrigger) Close() {}
