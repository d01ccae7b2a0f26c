package idemkeys

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

type memoryKey struct {
	userID uuid.UUID
	key    string
}

// MemoryStore is an in-memory Store for unit tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[memoryKey]*models.IdemKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[memoryKey]*models.IdemKey)}
}

func (s *MemoryStore) Put(_ context.Context, k *models.IdemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := memoryKey{userID: k.UserID, key: k.Key}
	if _, ok := s.keys[mk]; ok {
		return fmt.Errorf("idempotency key %q for user %s: %w", k.Key, k.UserID, sentinel.ErrConflict)
	}
	cp := *k
	s.keys[mk] = &cp
	return nil
}

func (s *MemoryStore) Find(_ context.Context, userID uuid.UUID, key string) (*models.IdemKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[memoryKey{userID: userID, key: key}]
	if !ok {
		return nil, fmt.Errorf("idempotency key %q for user %s: %w", key, userID, sentinel.ErrNotFound)
	}
	cp := *k
	return &cp, nil
}
