package uploads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store for unit tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads map[uuid.UUID]*models.Upload
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{uploads: make(map[uuid.UUID]*models.Upload)}
}

func (s *MemoryStore) Create(_ context.Context, u *models.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[u.ID]; ok {
		return fmt.Errorf("upload %s: %w", u.ID, sentinel.ErrConflict)
	}
	cp := *u
	s.uploads[u.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Upload, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.uploads[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountOwned(_ context.Context, ids []uuid.UUID, userID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range ids {
		if u, ok := s.uploads[id]; ok && u.UploadedBy == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountByUserSince(_ context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.uploads {
		if u.UploadedBy == userID && u.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}
