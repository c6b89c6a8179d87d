package segmentation

import (
	"context"
	"sync"

	"cordmetrics/internal/models"
)

// MemoryStore maps keys to artifact paths in memory
type MemoryStore struct {
	mu        sync.Mutex
	manual    map[string]string
	automatic map[string]string
	puts      int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manual:    make(map[string]string),
		automatic: make(map[string]string),
	}
}

// SetManual registers a curated override
func (s *MemoryStore) SetManual(key models.Key, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual[key.String()] = path
}

// Manual implements Store
func (s *MemoryStore) Manual(_ context.Context, key models.Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.manual[key.String()]
	return p, ok, nil
}

// Automatic implements Store
func (s *MemoryStore) Automatic(_ context.Context, key models.Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.automatic[key.String()]
	return p, ok, nil
}

// Put implements Store by recording src itself
func (s *MemoryStore) Put(_ context.Context, key models.Key, src string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.automatic[key.String()] = src
	s.puts++
	return src, nil
}

// Puts returns how many artifacts were stored
func (s *MemoryStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
