package batch

// Store holds the open batches, at most one per session.
// Every method is atomic with respect to the others.
type Store interface {
	// Name returns the backend name, for logs.
	Name() string

	// Add inserts item into the session's open batch, creating the batch with
	// FirstArrival = LastArrival = item.ArrivedAt when none is open.
	// It returns the batch state after the insert.
	Add(key SessionKey, item *BatchItem) (Stats, error)

	// Take removes the session's batch and returns it.
	// Returns nil if the session has no open batch.
	Take(key SessionKey) (*Batch, error)

	// Peek returns a copy of the session's batch without removing it.
	// Returns nil if the session has no open batch.
	Peek(key SessionKey) (*Batch, error)

	// List returns the stats of every open batch.
	List() ([]Stats, error)

	// Clear removes all open batches.
	Clear() error
}
