package flush

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/script"
)

// ScriptTrigger asks a Lua policy whether a batch is ready, on every append
// and periodically for all open batches.
type ScriptTrigger struct {
	policy  *script.Policy
	pending PendingLister
	drain   DrainFunc

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewScriptTrigger creates a ScriptTrigger and starts its poll loop
func NewScriptTrigger(policy *script.Policy, pending PendingLister, poll time.Duration, drain DrainFunc) *ScriptTrigger {
	t := &ScriptTrigger{
		policy:  policy,
		pending: pending,
		drain:   drain,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go t.run(poll)

	log.Debug().Dur("poll", poll).Msg("Started script trigger poll loop")
	return t
}

// Observe evaluates the policy for the batch that was just appended to
func (t *ScriptTrigger) Observe(s batch.Stats) {
	t.evaluate(s, t.pending.Now())
}

func (t *ScriptTrigger) run(poll time.Duration) {
	defer close(t.stopped)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep evaluates the policy for every open batch
func (t *ScriptTrigger) sweep() {
	pending, err := t.pending.Pending()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list open batches")
		return
	}

	now := t.pending.Now()
	for _, s := range pending {
		select {
		case <-t.stop:
			return
		default:
		}
		t.evaluate(s, now)
	}
}

func (t *ScriptTrigger) evaluate(s batch.Stats, now time.Time) {
	ready, err := t.policy.Ready(s, now)
	if err != nil {
		log.Error().Err(err).Str("session", string(s.Session)).Msg("Readiness policy failed")
		return
	}
	if ready {
		t.drain(s.Session)
	}
}

// Close stops the poll loop and waits for it to exit
func (t *ScriptTrigger) Close() {
	t.closeOnce.Do(func() {
		close(t.stop)
	})
	<-t.stopped
}
