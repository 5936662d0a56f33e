package prefs

import (
	"context"
	"sync"
	"time"

	"github.com/creastat/console"
)

// MemoryStore implements Store using an in-memory map with optimistic locking.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	s.records[rec.Key] = rec.clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, nil
	}
	return rec.clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[rec.Key]
	if !exists {
		return console.ErrNotFound
	}
	if stored.Version != rec.Version {
		return console.ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = time.Now()

	s.records[rec.Key] = rec.clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
	return nil
}

var _ Store = (*MemoryStore)(nil)
