package evidence

import (
	"context"
	"sort"
	"sync"
)

// Store is the evidence file registry. Registry rows only reference blob
// content; the bytes live behind BlobStore.
type Store interface {
	Create(ctx context.Context, f File) error
	Find(ctx context.Context, id string) (File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]File, error)
	Remove(ctx context.Context, id string) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	files map[string]File
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{files: make(map[string]File)}
}

func (s *InMemory) Create(ctx context.Context, f File) error {
	if f.ID == "" || f.OwnerID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return ErrAlreadyExists
	}
	s.files[f.ID] = f
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return File{}, ErrUnknownFile
	}
	return f, nil
}

func (s *InMemory) ListByOwner(ctx context.Context, ownerID string) ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []File
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return ErrUnknownFile
	}
	delete(s.files, id)
	return nil
}
