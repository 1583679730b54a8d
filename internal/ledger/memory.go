package ledger

import (
	"context"
	"sync"

	"threatlens/internal/apperrors"
)

// MemoryStore keeps entries in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byRef   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRef: make(map[string]int)}
}

func (s *MemoryStore) Tail(ctx context.Context) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	tail := cloneEntry(s.entries[len(s.entries)-1])
	return &tail, nil
}

func (s *MemoryStore) Insert(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := int64(len(s.entries) + 1); entry.BlockNumber != want {
		return apperrors.New(apperrors.KindIntegrity, "block %d already taken or out of sequence (next is %d)", entry.BlockNumber, want)
	}
	if _, exists := s.byRef[entry.ReferenceID]; exists {
		return apperrors.New(apperrors.KindIntegrity, "reference id %s already recorded", entry.ReferenceID)
	}

	s.byRef[entry.ReferenceID] = len(s.entries)
	s.entries = append(s.entries, cloneEntry(*entry))
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, referenceID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byRef[referenceID]
	if !ok {
		return nil, apperrors.NotFound("ledger entry %s not found", referenceID)
	}
	entry := cloneEntry(s.entries[idx])
	return &entry, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// tamper overwrites a stored entry in place. Tests use it to simulate corruption.
func (s *MemoryStore) tamper(block int64, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.entries[block-1])
}

func cloneEntry(e Entry) Entry {
	if e.Payload != nil {
		e.Payload = append([]byte(nil), e.Payload...)
	}
	return e
}
