package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

// MemoryStore is a process-local fingerprint store used by tests and demo
// mode. A single mutex covers the map; Touch is check-then-update under it.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*models.AnomalyFingerprint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*models.AnomalyFingerprint),
	}
}

func (s *MemoryStore) Touch(ctx context.Context, fp *models.AnomalyFingerprint) (*time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[fp.Hash]
	if !ok {
		cp := *fp
		s.entries[fp.Hash] = &cp
		return nil, false, nil
	}

	prev := existing.LastSeen
	existing.LastSeen = fp.LastSeen
	existing.Count++
	return &prev, existing.Escalated, nil
}

func (s *MemoryStore) MarkEscalated(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fp, ok := s.entries[hash]; ok {
		fp.Escalated = true
	}
	return nil
}

// Get returns a copy of the stored fingerprint, for inspection.
func (s *MemoryStore) Get(hash string) (models.AnomalyFingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.entries[hash]
	if !ok {
		return models.AnomalyFingerprint{}, false
	}
	return *fp, true
}
