package flush

import (
	"sync"
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// timerEntry identifies one armed timer so a stale callback can tell it was replaced
type timerEntry struct {
	timer *time.Timer
}

// sessionTimers keeps at most one pending drain timer per session
type sessionTimers struct {
	mu     sync.Mutex
	timers map[batch.SessionKey]*timerEntry
	closed bool
	drain  DrainFunc
}

func newSessionTimers(drain DrainFunc) *sessionTimers {
	return &sessionTimers{
		timers: make(map[batch.SessionKey]*timerEntry),
		drain:  drain,
	}
}

// arm schedules a drain of key after d. With reset, an armed timer is replaced;
// without it, an armed timer is left alone.
func (st *sessionTimers) arm(key batch.SessionKey, d time.Duration, reset bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}

	if existing, ok := st.timers[key]; ok {
		if !reset {
			return
		}
		existing.timer.Stop()
	}

	entry := &timerEntry{}
	entry.timer = time.AfterFunc(d, func() { st.fire(key, entry) })
	st.timers[key] = entry
}

// fire drains the session unless the timer was replaced or stopped meanwhile
func (st *sessionTimers) fire(key batch.SessionKey, entry *timerEntry) {
	st.mu.Lock()
	if st.closed || st.timers[key] != entry {
		st.mu.Unlock()
		return
	}
	delete(st.timers, key)
	st.mu.Unlock()

	st.drain(key)
}

// pending returns the number of armed timers
func (st *sessionTimers) pending() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.timers)
}

// stop cancels all timers; later arm calls are ignored
func (st *sessionTimers) stop() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.closed = true
	for key, entry := range st.timers {
		entry.timer.Stop()
		delete(st.timers, key)
	}
}
