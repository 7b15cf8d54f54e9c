package store

import (
	"context"
	"sync"
	"time"

	"skillproof/internal/profile/models"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/sentinel"
)

// InMemory keeps profiles in process. It does not lock rows: callers that
// need read-modify-write isolation run under the in-memory transaction,
// which serializes work per address.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[domain.Address]*models.UserProfile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[domain.Address]*models.UserProfile)}
}

func (s *InMemory) GetOrCreateForUpdate(_ context.Context, address domain.Address, now time.Time) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok {
		p = models.NewUserProfile(address, now)
		s.profiles[address] = p
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) Save(_ context.Context, profile *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.Address]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *profile
	s.profiles[profile.Address] = &cp
	return nil
}

func (s *InMemory) FindByAddress(_ context.Context, address domain.Address) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
