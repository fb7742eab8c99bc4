package session

import (
	"context"
	"sync"
)

// Store persists the single session record. Load returns ErrNoSession when
// nothing is stored; Clear on an empty store is not an error.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu   sync.Mutex
	sess *Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Load(_ context.Context) (*Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.sess == nil {
		return nil, ErrNoSession
	}
	s := *ms.sess
	return &s, nil
}

func (ms *MemoryStore) Save(_ context.Context, s *Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *s
	ms.sess = &cp
	return nil
}

func (ms *MemoryStore) Clear(_ context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sess = nil
	return nil
}
