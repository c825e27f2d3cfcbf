package instance

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardgate/internal/form"
	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
)

// InMemoryStore keeps instances in maps. It needs a form store to answer
// RegisteredByFormType, mirroring the join the postgres store performs.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[id.InstanceID]CardInstance
	forms     form.Store
}

func NewInMemoryStore(forms form.Store) *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[id.InstanceID]CardInstance),
		forms:     forms,
	}
}

func (s *InMemoryStore) Insert(_ context.Context, inst CardInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.ID]; exists {
		return sentinel.ErrConflict
	}
	s.instances[inst.ID] = inst
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, instanceID id.InstanceID) (CardInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return CardInstance{}, sentinel.ErrNotFound
	}
	return inst, nil
}

func (s *InMemoryStore) MarkSuperseded(_ context.Context, old id.InstanceID, successor id.InstanceID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[old]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !inst.IsCurrent || inst.SupersededBy != nil {
		return sentinel.ErrConflict
	}
	inst.IsCurrent = false
	inst.SupersededBy = &successor
	inst.SupersededAt = &at
	s.instances[old] = inst
	return nil
}

func (s *InMemoryStore) Lineage(_ context.Context, instanceID id.InstanceID) ([]CardInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.instances[instanceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Walk backward to the chain root via predecessor lookup.
	predecessorOf := make(map[id.InstanceID]id.InstanceID, len(s.instances))
	for _, inst := range s.instances {
		if inst.SupersededBy != nil {
			predecessorOf[*inst.SupersededBy] = inst.ID
		}
	}
	root := start
	for {
		pred, ok := predecessorOf[root.ID]
		if !ok {
			break
		}
		root = s.instances[pred]
	}

	// Walk forward to the tail.
	chain := []CardInstance{root}
	for cur := root; cur.SupersededBy != nil; {
		next, ok := s.instances[*cur.SupersededBy]
		if !ok {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

func (s *InMemoryStore) RegisteredByFormType(ctx context.Context, formType id.FormType) ([]CardInstance, error) {
	s.mu.RLock()
	instances := make([]CardInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.RUnlock()

	var out []CardInstance
	for _, inst := range instances {
		f, err := s.forms.GetByID(ctx, inst.FormID)
		if err != nil {
			continue
		}
		if f.FormType == formType && f.Status == form.StatusRegistered {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
