package store

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skillproof/internal/verification/models"
	"skillproof/pkg/domain"
	"skillproof/pkg/platform/sentinel"
)

// InMemory is a thread-safe verification store. Reads return copies so
// callers cannot mutate stored records.
type InMemory struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*models.Verification
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[uuid.UUID]*models.Verification)}
}

func (s *InMemory) Create(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[v.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[v.ID] = clone(v)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(v), nil
}

// ListByUser returns every record for address, newest first. An empty
// address lists all records.
func (s *InMemory) ListByUser(_ context.Context, address domain.Address) ([]*models.Verification, error) {
	return s.filter(func(v *models.Verification) bool {
		return address.IsNil() || v.UserAddress == address
	}), nil
}

// VerifiedForUser returns the verified records for address, newest first.
func (s *InMemory) VerifiedForUser(_ context.Context, address domain.Address) ([]*models.Verification, error) {
	return s.filter(func(v *models.Verification) bool {
		return v.UserAddress == address && v.Status() == models.StatusVerified
	}), nil
}

func (s *InMemory) VerifiedScores(_ context.Context, address domain.Address) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var scores []int
	for _, v := range s.items {
		if v.UserAddress != address {
			continue
		}
		if outcome, ok := v.Verified(); ok {
			scores = append(scores, outcome.Score)
		}
	}
	return scores, nil
}

// Transition stores v's new state if the stored record is still pending.
func (s *InMemory) Transition(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[v.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status() != models.StatusPending {
		return sentinel.ErrInvalidState
	}
	next := clone(current)
	next.State = cloneState(v.State)
	next.UpdatedAt = v.UpdatedAt
	s.items[v.ID] = next
	return nil
}

func (s *InMemory) filter(keep func(*models.Verification) bool) []*models.Verification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Verification, 0)
	for _, v := range s.items {
		if keep(v) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func clone(v *models.Verification) *models.Verification {
	cp := *v
	cp.ProofData = append(json.RawMessage(nil), v.ProofData...)
	cp.State = cloneState(v.State)
	return &cp
}

func cloneState(s models.State) models.State {
	if verified, ok := s.(models.Verified); ok && verified.TokenID != nil {
		verified.TokenID = new(big.Int).Set(verified.TokenID)
		return verified
	}
	return s
}
