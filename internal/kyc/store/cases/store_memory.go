package cases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store for unit tests and local development.
// Claim semantics match the PostgreSQL implementation: TryClaim is a
// compare-and-set under the store lock.
type MemoryStore struct {
	mu    sync.Mutex
	cases map[string]*models.Case
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*models.Case)}
}

func (s *MemoryStore) Create(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrConflict)
	}
	s.cases[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(c), nil
}

func (s *MemoryStore) Update(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.cases[c.ID]
	if !ok {
		return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrNotFound)
	}
	if stored.Version != c.Version {
		return fmt.Errorf("case %s version %d: %w", c.ID, c.Version, sentinel.ErrConflict)
	}
	c.Version++
	s.cases[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) FindLatestByUser(_ context.Context, userID uuid.UUID) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Case
	for _, c := range s.cases {
		if c.UserID != userID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest case for user %s: %w", userID, sentinel.ErrNotFound)
	}
	return clone(latest), nil
}

func (s *MemoryStore) FindActiveByUser(_ context.Context, userID uuid.UUID) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active *models.Case
	for _, c := range s.cases {
		if c.UserID != userID || c.Status.IsTerminal() {
			continue
		}
		if active == nil || c.CreatedAt.After(active.CreatedAt) {
			active = c
		}
	}
	if active == nil {
		return nil, fmt.Errorf("active case for user %s: %w", userID, sentinel.ErrNotFound)
	}
	return clone(active), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status models.CaseStatus, offset, limit int) ([]*models.Case, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.Case
	for _, c := range s.cases {
		if c.Status == status {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]*models.Case, 0, len(matched))
	for _, c := range matched {
		out = append(out, clone(c))
	}
	return out, total, nil
}

func (s *MemoryStore) TryClaim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return false, fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	if c.Processing {
		return false, nil
	}
	c.Processing = true
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	c.Processing = false
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FindAutoReviewCandidates(_ context.Context, limit int) ([]*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.Case
	for _, c := range s.cases {
		if c.Status == models.StatusPending && !c.Processing {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	out := make([]*models.Case, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, clone(c))
	}
	return out, nil
}

func (s *MemoryStore) FindPurgeable(_ context.Context, cutoff time.Time) ([]*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Case
	for _, c := range s.cases {
		if (c.Status == models.StatusApproved || c.Status == models.StatusRejected) && c.UpdatedAt.Before(cutoff) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func clone(c *models.Case) *models.Case {
	cp := *c
	if c.ReviewedBy != nil {
		rb := *c.ReviewedBy
		cp.ReviewedBy = &rb
	}
	if c.DecidedAt != nil {
		da := *c.DecidedAt
		cp.DecidedAt = &da
	}
	return &cp
}
