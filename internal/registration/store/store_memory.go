package store

import (
	"context"
	"sync"

	"ipx/internal/registration/models"
	id "ipx/pkg/domain"
)

// InMemoryStore keeps registrations in a map guarded by one mutex.
type InMemoryStore struct {
	mu   sync.Mutex
	regs map[id.RegistrationID]*models.Registration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{regs: make(map[id.RegistrationID]*models.Registration)}
}

func (s *InMemoryStore) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[reg.ID]; ok {
		return ErrExists
	}
	s.regs[reg.ID] = reg.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, regID id.RegistrationID) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[regID]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, regID id.RegistrationID, fn UpdateFunc) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.regs[regID]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.regs[regID] = working
	return working.Clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, regID id.RegistrationID, guard UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.regs[regID]
	if !ok {
		return ErrNotFound
	}
	if guard != nil {
		if err := guard(current.Clone()); err != nil {
			return err
		}
	}
	delete(s.regs, regID)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// Len reports how many registrations are held.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}
