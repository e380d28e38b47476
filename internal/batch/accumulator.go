package batch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Accumulator groups appended items into per-session batches.
// It is safe for concurrent use; the Store serialises access per call.
type Accumulator struct {
	store Store
	now   func() time.Time
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock overrides the time source used for arrival timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		a.now = now
	}
}

// New creates an Accumulator backed by store.
func New(store Store, opts ...Option) *Accumulator {
	a := &Accumulator{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store returns the backing store.
func (a *Accumulator) Store() Store {
	return a.store
}

// Append adds item to the session's open batch, opening one if needed, and
// returns the batch state including this item.
func (a *Accumulator) Append(key SessionKey, item Item) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, fmt.Errorf("%w: session key is empty", ErrInvalidArgument)
	}
	if item.URL == "" {
		return Snapshot{}, fmt.Errorf("%w: url is empty", ErrInvalidArgument)
	}

	now := a.now()
	stored := &BatchItem{
		ID:        NewItemID(key, now),
		URL:       item.URL,
		Caption:   item.Caption,
		Binary:    item.Binary,
		SenderID:  item.SenderID,
		Payload:   item.Payload,
		ArrivedAt: now,
	}

	stats, err := a.store.Add(key, stored)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to add item to batch: %w", err)
	}

	if stats.Count == 1 {
		log.Debug().Str("session", string(key)).Msg("Created new batch")
	}
	log.Debug().
		Str("session", string(key)).
		Str("item_id", string(stored.ID)).
		Str("url", item.URL).
		Int("count", stats.Count).
		Msg("Image added to batch")

	return Snapshot{
		Stats:   stats,
		ItemID:  stored.ID,
		Payload: item.Payload,
		Binary:  item.Binary,
	}, nil
}

// Drain atomically removes the session's batch and returns it.
// Returns nil if the session has no open batch.
func (a *Accumulator) Drain(key SessionKey) (*Batch, error) {
	b, err := a.store.Take(key)
	if err != nil {
		return nil, fmt.Errorf("failed to drain batch: %w", err)
	}
	return b, nil
}

// Peek returns a copy of the session's open batch, or nil.
func (a *Accumulator) Peek(key SessionKey) (*Batch, error) {
	return a.store.Peek(key)
}

// Pending returns the stats of every open batch.
func (a *Accumulator) Pending() ([]Stats, error) {
	return a.store.List()
}

// Now returns the current time from the accumulator's clock.
func (a *Accumulator) Now() time.Time {
	return a.now()
}
