package issuance

import (
	"context"
	"sort"
	"sync"
	"time"

	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	issuances  map[id.IssuanceID]CardIssuance
	deliveries map[id.IssuanceID]CardDelivery
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		issuances:  make(map[id.IssuanceID]CardIssuance),
		deliveries: make(map[id.IssuanceID]CardDelivery),
	}
}

func (s *InMemoryStore) InsertIssuance(_ context.Context, iss CardIssuance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issuances[iss.ID]; exists {
		return sentinel.ErrConflict
	}
	s.issuances[iss.ID] = iss
	return nil
}

func (s *InMemoryStore) InsertDelivery(_ context.Context, del CardDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[del.IssuanceID] = del
	return nil
}

func (s *InMemoryStore) GetIssuance(_ context.Context, issuanceID id.IssuanceID) (CardIssuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issuances[issuanceID]
	if !ok {
		return CardIssuance{}, sentinel.ErrNotFound
	}
	return iss, nil
}

// GetDelivery returns the delivery mirroring an issuance. Test helper.
func (s *InMemoryStore) GetDelivery(_ context.Context, issuanceID id.IssuanceID) (CardDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	del, ok := s.deliveries[issuanceID]
	if !ok {
		return CardDelivery{}, sentinel.ErrNotFound
	}
	return del, nil
}

func (s *InMemoryStore) Transition(_ context.Context, issuanceID id.IssuanceID, target Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issuances[issuanceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	allowed := false
	for _, from := range AllowedSources(target) {
		if iss.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return sentinel.ErrConflict
	}
	iss.Status = target
	iss.ResolvedAt = &at
	s.issuances[issuanceID] = iss

	if del, ok := s.deliveries[issuanceID]; ok {
		del.Status = target
		del.UpdatedAt = at
		s.deliveries[issuanceID] = del
	}
	return nil
}

func (s *InMemoryStore) ListByInstance(_ context.Context, instanceID id.InstanceID) ([]CardIssuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CardIssuance
	for _, iss := range s.issuances {
		if iss.InstanceID == instanceID {
			out = append(out, iss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status Status) ([]CardIssuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CardIssuance
	for _, iss := range s.issuances {
		if iss.Status == status {
			out = append(out, iss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}
