package session

import (
	"context"
	"sync"
	"time"

	"github.com/carescore/platform/pkg/submission"
)

type memoryEntry struct {
	snap    submission.Snapshot
	expires time.Time
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
	locks   map[string]time.Time
}

func NewMemoryStore(ttl, lockTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		lockTTL: lockTTL,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Save(_ context.Context, id string, snap submission.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{snap: snap, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (submission.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return submission.Snapshot{}, ErrNotFound
	}
	if s.ttl > 0 && s.now().After(entry.expires) {
		delete(s.entries, id)
		return submission.Snapshot{}, ErrNotFound
	}
	return entry.snap, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	delete(s.locks, id)
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, held := s.locks[id]; held && (s.lockTTL <= 0 || now.Before(until)) {
		return nil, ErrLocked
	}
	until := now.Add(s.lockTTL)
	s.locks[id] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// an expired lock may have been taken over by another caller
			if current, ok := s.locks[id]; ok && current.Equal(until) {
				delete(s.locks, id)
			}
		})
	}, nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
