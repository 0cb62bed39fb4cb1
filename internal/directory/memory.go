package directory

import (
	"context"
	"sync"

	"sealedchat/internal/domain"
)

// MemoryStore is an in-process domain.DirectoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[domain.PeerID]domain.Fields
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bundles: make(map[domain.PeerID]domain.Fields)}
}

func (s *MemoryStore) Get(ctx context.Context, peer domain.PeerID) (domain.Fields, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.bundles[peer]
	if !ok {
		return nil, false, nil
	}
	return copyFields(f), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, peer domain.PeerID, fields domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[peer] = copyFields(fields)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, peer domain.PeerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bundles, peer)
	return nil
}

// Len reports how many bundles are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}

func copyFields(f domain.Fields) domain.Fields {
	out := make(domain.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

var _ domain.DirectoryStore = (*MemoryStore)(nil)
