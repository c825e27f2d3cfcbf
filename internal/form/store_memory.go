package form

import (
	"context"
	"sync"

	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	forms map[id.FormID]CardForm
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{forms: make(map[id.FormID]CardForm)}
}

func (s *InMemoryStore) Save(_ context.Context, form CardForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[form.ID] = form
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, formID id.FormID) (CardForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.forms[formID]
	if !ok {
		return CardForm{}, sentinel.ErrNotFound
	}
	return form, nil
}
