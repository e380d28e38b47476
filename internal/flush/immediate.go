package flush

import "github.com/dokzlo13/imagebatch/internal/batch"

// ImmediateTrigger drains on every append (no batching)
type ImmediateTrigger struct {
	drain DrainFunc
}

// NewImmediateTrigger creates a new ImmediateTrigger
func NewImmediateTrigger(drain DrainFunc) *ImmediateTrigger {
	return &ImmediateTrigger{drain: drain}
}

// Observe immediately drains the session
func (t *ImmediateTrigger) Observe(s batch.Stats) {
	t.drain(s.Session)
}

// Close is a no-op for ImmediateTrigger
func (t *ImmediateTrigger) Close() {}
