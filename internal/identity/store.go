package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
// There is no delete: accounts are disabled in place to preserve audit
// referential integrity.
type Store interface {
	Create(ctx context.Context, p Principal) error
	Resolve(ctx context.Context, id string) (Principal, error)
	FindByUsername(ctx context.Context, username string) (Principal, error)
	List(ctx context.Context) ([]Principal, error)
	SetRole(ctx context.Context, id string, role Role) error
	Deactivate(ctx context.Context, id string) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]Principal
	byName map[string]string // username -> id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty identity store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]Principal),
		byName: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, p Principal) error {
	if p.ID == "" || p.Username == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byName[p.Username]; ok {
		return ErrAlreadyExists
	}
	s.byID[p.ID] = p
	s.byName[p.Username] = p.ID
	return nil
}

func (s *InMemory) Resolve(ctx context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrUnknownPrincipal
	}
	return p, nil
}

func (s *InMemory) FindByUsername(ctx context.Context, username string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.TrimSpace(username)]
	if !ok {
		return Principal{}, ErrUnknownPrincipal
	}
	return s.byID[id], nil
}

func (s *InMemory) List(ctx context.Context) ([]Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Principal, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out, nil
}

func (s *InMemory) SetRole(ctx context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrUnknownPrincipal
	}
	p.Role = role
	p.UpdatedAt = time.Now().UTC()
	s.byID[id] = p
	return nil
}

func (s *InMemory) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrUnknownPrincipal
	}
	p.Status = StatusDisabled
	p.UpdatedAt = time.Now().UTC()
	s.byID[id] = p
	return nil
}
