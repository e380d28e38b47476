package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/ledger"
)

// LogSink logs a summary of each batch
type LogSink struct{}

// NewLogSink creates a new LogSink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name returns "log"
func (s *LogSink) Name() string {
	return "log"
}

// Deliver logs the batch and its item URLs
func (s *LogSink) Deliver(_ context.Context, b *batch.Batch) error {
	urls := make([]string, 0, b.Count())
	for _, item := range b.Ordered() {
		urls = append(urls, item.URL)
	}

	log.Info().
		Str("session", string(b.Session)).
		Int("count", b.Count()).
		Time("first_arrival", b.FirstArrival).
		Time("last_arrival", b.LastArrival).
		Strs("urls", urls).
		Msg("Batch ready for analysis")
	return nil
}

// LedgerSink records each batch in the event ledger
type LedgerSink struct {
	ledger *ledger.Ledger
}

// NewLedgerSink creates a new LedgerSink
func NewLedgerSink(l *ledger.Ledger) *LedgerSink {
	return &LedgerSink{ledger: l}
}

// Name returns "ledger"
func (s *LedgerSink) Name() string {
	return "ledger"
}

// Deliver appends a batch_drained entry
func (s *LedgerSink) Deliver(_ context.Context, b *batch.Batch) error {
	ids := make([]any, 0, b.Count())
	for _, item := range b.Ordered() {
		ids = append(ids, string(item.ID))
	}

	return s.ledger.Append(ledger.EventBatchDrained, string(b.Session), b.Count(), map[string]any{
		"first_arrival_ms": b.FirstArrival.UnixMilli(),
		"last_arrival_ms":  b.LastArrival.UnixMilli(),
		"item_ids":         ids,
	})
}

// RecordFailure returns a FailureFunc that appends batch_dispatch_failed entries
func RecordFailure(l *ledger.Ledger) FailureFunc {
	return func(sink string, b *batch.Batch, err error) {
		appendErr := l.Append(ledger.EventBatchDispatchFailed, string(b.Session), b.Count(), map[string]any{
			"sink":  sink,
			"error": err.Error(),
		})
		if appendErr != nil {
			log.Warn().Err(appendErr).Str("session", string(b.Session)).Msg("Failed to record dispatch failure")
		}
	}
}
