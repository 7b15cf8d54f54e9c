package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skillproof/internal/skill/models"
	"skillproof/pkg/platform/sentinel"
)

// InMemory is a thread-safe skill catalog for tests and single-node runs.
type InMemory struct {
	mu     sync.RWMutex
	skills map[uuid.UUID]*models.Skill
}

func NewInMemory() *InMemory {
	return &InMemory{skills: make(map[uuid.UUID]*models.Skill)}
}

func (s *InMemory) Create(_ context.Context, skill *models.Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.skills[skill.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *skill
	s.skills[skill.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skill, ok := s.skills[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *skill
	return &cp, nil
}

// List returns skills newest first, optionally restricted to one category.
func (s *InMemory) List(_ context.Context, category models.Category) ([]*models.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Skill, 0, len(s.skills))
	for _, skill := range s.skills {
		if category != "" && skill.Category != category {
			continue
		}
		cp := *skill
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
