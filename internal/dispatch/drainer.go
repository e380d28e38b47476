package dispatch

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// Drainer removes ready batches from the accumulator and publishes them.
// Its Drain method is the flush.DrainFunc wired into triggers.
type Drainer struct {
	acc *batch.Accumulator
	bus *Bus
}

// NewDrainer creates a new Drainer
func NewDrainer(acc *batch.Accumulator, bus *Bus) *Drainer {
	return &Drainer{acc: acc, bus: bus}
}

// Drain atomically takes the session's batch and publishes it to the sinks.
// A session without an open batch (already drained) is ignored.
func (d *Drainer) Drain(key batch.SessionKey) {
	b, err := d.acc.Drain(key)
	if err != nil {
		log.Error().Err(err).Str("session", string(key)).Msg("Failed to drain batch")
		return
	}
	if b == nil {
		log.Debug().Str("session", string(key)).Msg("No open batch to drain")
		return
	}

	now := d.acc.Now()
	log.Info().
		Str("session", string(key)).
		Int("count", b.Count()).
		Dur("age", b.Stats().Age(now)).
		Msg("Batch drained")

	if !d.bus.Publish(b) {
		log.Error().
			Str("session", string(key)).
			Int("count", b.Count()).
			Msg("Drained batch was not handed to every sink")
	}
}
