// Package flush decides when an open batch is drained.
//
// A Trigger observes the batch state returned by each append and calls its
// DrainFunc once the strategy considers the session's batch ready.
package flush

import (
	"fmt"
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/script"
)

// DrainFunc is called when a session's batch should be drained
type DrainFunc func(key batch.SessionKey)

// Trigger watches appends and drains batches based on a strategy
type Trigger interface {
	Observe(s batch.Stats)
	Close()
}

// PendingLister lists open batches; used by strategies that poll
type PendingLister interface {
	Pending() ([]batch.Stats, error)
	Now() time.Time
}

// Strategy names
const (
	StrategyQuiet     = "quiet"
	StrategyWindow    = "window"
	StrategyCount     = "count"
	StrategyImmediate = "immediate"
	StrategyScript    = "script"
)

// Options configures New
type Options struct {
	Strategy string
	Quiet    time.Duration // quiet: drain after no appends for this long
	Window   time.Duration // window: drain this long after the first arrival
	Count    int           // count: drain once this many items are present
	Poll     time.Duration // script: how often open batches are re-evaluated

	Now func() time.Time // window: clock for the batch age, defaults to time.Now

	Policy  *script.Policy // script only
	Pending PendingLister  // script only
}

// New creates the Trigger selected by opts.Strategy
func New(opts Options, drain DrainFunc) (Trigger, error) {
	switch opts.Strategy {
	case StrategyQuiet:
		if opts.Quiet <= 0 {
			return nil, fmt.Errorf("quiet strategy requires a positive quiet period")
		}
		return NewQuietTrigger(opts.Quiet, drain), nil
	case StrategyWindow:
		if opts.Window <= 0 {
			return nil, fmt.Errorf("window strategy requires a positive window")
		}
		return NewWindowTrigger(opts.Window, opts.Now, drain), nil
	case StrategyCount:
		if opts.Count <= 0 {
			return nil, fmt.Errorf("count strategy requires a positive count")
		}
		return NewCountTrigger(opts.Count, drain), nil
	case StrategyImmediate:
		return NewImmediateTrigger(drain), nil
	case StrategyScript:
		if opts.Policy == nil || opts.Pending == nil {
			return nil, fmt.Errorf("script strategy requires a policy and a pending lister")
		}
		if opts.Poll <= 0 {
			return nil, fmt.Errorf("script strategy requires a positive poll interval")
		}
		return NewScriptTrigger(opts.Policy, opts.Pending, opts.Poll, drain), nil
	default:
		return nil, fmt.Errorf("unknown flush strategy %q", opts.Strategy)
	}
}
