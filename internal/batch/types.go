// Package batch groups image events of one conversation session into a single
// batch so they can be analysed together.
//
// The Accumulator owns a Store of open batches keyed by session. Append adds an
// item and reports the batch state after the insert; Drain atomically reads and
// removes a session's batch. Deciding when to drain is left to the caller (see
// internal/flush). Nothing in this package expires batches: entries stay until
// drained, and Inspect exists to surface batches that grew or aged past limits.
package batch

import (
	"maps"
	"sort"
	"time"
)

// SessionKey identifies a conversation session (e.g. sender plus channel).
type SessionKey string

// ItemID identifies one accumulated item. Unique across the store's lifetime.
type ItemID string

// Item is the input of Append.
type Item struct {
	URL      string         // Source URL of the image, required
	Caption  string         // Text sent along with the image, may be empty
	Binary   any            // Opaque attachment handle, returned unchanged
	SenderID string         // Opaque sender identifier, may be empty
	Payload  map[string]any // Original event, passed through
}

// BatchItem is an Item stored in a batch.
type BatchItem struct {
	ID        ItemID
	URL       string
	Caption   string
	Binary    any
	SenderID  string
	Payload   map[string]any
	ArrivedAt time.Time
}

// Batch is the set of items accumulated for one session between creation and drain.
type Batch struct {
	Session      SessionKey
	Items        map[ItemID]*BatchItem
	FirstArrival time.Time // Set once, when the batch is created
	LastArrival  time.Time // Updated on every append
}

func newBatch(key SessionKey, now time.Time) *Batch {
	return &Batch{
		Session:      key,
		Items:        make(map[ItemID]*BatchItem),
		FirstArrival: now,
		LastArrival:  now,
	}
}

// add inserts an item and advances LastArrival, never moving it backwards.
func (b *Batch) add(item *BatchItem) {
	b.Items[item.ID] = item
	if item.ArrivedAt.After(b.LastArrival) {
		b.LastArrival = item.ArrivedAt
	}
}

// Count returns the number of items in the batch.
func (b *Batch) Count() int {
	return len(b.Items)
}

// Ordered returns the items sorted by arrival time, ties broken by ID.
func (b *Batch) Ordered() []*BatchItem {
	items := make([]*BatchItem, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ArrivedAt.Equal(items[j].ArrivedAt) {
			return items[i].ArrivedAt.Before(items[j].ArrivedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Stats returns the batch metadata without its items.
func (b *Batch) Stats() Stats {
	return Stats{
		Session:      b.Session,
		Count:        b.Count(),
		FirstArrival: b.FirstArrival,
		LastArrival:  b.LastArrival,
	}
}

// clone copies the batch and its item map. Items are never mutated after insert,
// so they are shared.
func (b *Batch) clone() *Batch {
	return &Batch{
		Session:      b.Session,
		Items:        maps.Clone(b.Items),
		FirstArrival: b.FirstArrival,
		LastArrival:  b.LastArrival,
	}
}

// Stats is the observable state of an open batch, enough for a scheduler to
// decide readiness.
type Stats struct {
	Session      SessionKey
	Count        int
	FirstArrival time.Time
	LastArrival  time.Time
}

// Age returns how long ago the batch was created.
func (s Stats) Age(now time.Time) time.Duration {
	return now.Sub(s.FirstArrival)
}

// Idle returns how long ago the last item arrived.
func (s Stats) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastArrival)
}

// Snapshot is returned by Append and reflects the batch right after the append.
type Snapshot struct {
	Stats
	ItemID  ItemID
	Payload map[string]any
	Binary  any
}

// Annotation keys merged into the pass-through payload.
const (
	KeyBatchID      = "_batchId"
	KeySessionID    = "_batchSessionId"
	KeyCurrentCount = "_currentBatchCount"
	KeyFirstTime    = "_batchFirstTime"
	KeyLastTime     = "_batchLastTime"
)

// Annotated returns a copy of the original payload with the batch metadata
// merged in. Times are epoch milliseconds.
func (s Snapshot) Annotated() map[string]any {
	out := make(map[string]any, len(s.Payload)+5)
	maps.Copy(out, s.Payload)
	out[KeyBatchID] = string(s.ItemID)
	out[KeySessionID] = string(s.Session)
	out[KeyCurrentCount] = s.Count
	out[KeyFirstTime] = s.FirstArrival.UnixMilli()
	out[KeyLastTime] = s.LastArrival.UnixMilli()
	return out
}
