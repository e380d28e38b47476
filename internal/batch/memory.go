package batch

import "sync"

// MemoryStore keeps open batches in process memory. Batches are lost on exit.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[SessionKey]*Batch
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[SessionKey]*Batch),
	}
}

// Name returns "memory".
func (s *MemoryStore) Name() string {
	return "memory"
}

// Add inserts an item, creating the session's batch if needed.
func (s *MemoryStore) Add(key SessionKey, item *BatchItem) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if !ok {
		b = newBatch(key, item.ArrivedAt)
		s.batches[key] = b
	}
	b.add(item)

	return b.Stats(), nil
}

// Take removes and returns the session's batch.
func (s *MemoryStore) Take(key SessionKey) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if !ok {
		return nil, nil
	}
	delete(s.batches, key)
	return b, nil
}

// Peek returns a copy of the session's batch.
func (s *MemoryStore) Peek(key SessionKey) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if !ok {
		return nil, nil
	}
	return b.clone(), nil
}

// List returns the stats of every open batch.
func (s *MemoryStore) List() ([]Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]Stats, 0, len(s.batches))
	for _, b := range s.batches {
		stats = append(stats, b.Stats())
	}
	return stats, nil
}

// Clear removes all open batches.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = make(map[SessionKey]*Batch)
	return nil
}
