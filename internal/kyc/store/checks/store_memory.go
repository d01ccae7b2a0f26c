package checks

import (
	"context"
	"sort"
	"sync"

	"kycflow/internal/kyc/models"
)

// MemoryStore is an in-memory Store for unit tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	byCase map[string][]*models.Check
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCase: make(map[string][]*models.Check)}
}

func (s *MemoryStore) Append(_ context.Context, c *models.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byCase[c.CaseID] = append(s.byCase[c.CaseID], &cp)
	return nil
}

func (s *MemoryStore) ListByCase(_ context.Context, caseID string) ([]*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.byCase[caseID]
	out := make([]*models.Check, 0, len(stored))
	for _, c := range stored {
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
